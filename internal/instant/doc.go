// Package instant implements the registry's instant channel: a mailbox of
// questions per device, each awaiting a typed answer.
//
// A caller asks a recipient device a question of some type, with a list of
// options. The recipient (or anyone acting for it) later answers by type,
// choosing an option by index. Every unanswered or answered instant of that
// type in the recipient's queue takes the answer; answering is a batch
// resolve by type. Delete removes the most recent instant of a type.
//
// Only registered devices receive instants. Ask checks the recipient before
// and after writing, so a queue created while the device was being removed
// is dropped again; removing a device deletes its queue.
//
// Queues keep insertion order, oldest first. The instants document is polled
// frequently and is normally configured as a cached document in the store.
// Scan returns a filtered copy and never writes.
package instant
