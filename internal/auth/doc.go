// Package auth implements the registry's token manager.
//
// Tokens are opaque identifiers issued out of band (for example by the
// pairing flow) and held in the tokens document with an expiry and a
// permission level. A token is "pending" until the device registry promotes
// it into a device record, at which point the token entry is consumed and
// the device carries the permission level from then on.
//
// Expiry is lazy: there is no timer. Every validity check sweeps expired
// entries from the document in the same locked cycle, so the document stays
// small without a background sweeper.
//
// Permission levels run from 0 (no access) to 5. Levels 0-4 can be issued;
// 5 is reserved for the master token, which is configured out of band, never
// stored, and never expires.
//
// Raw tokens are bearer credentials and are never logged. Log lines carry
// Fingerprint(token) instead.
package auth
