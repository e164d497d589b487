// Package composition decodes composition data page 0 and scans it for
// vendor models.
//
// A page 0 record is a 10 byte header followed by a sequence of elements:
//
//	Header:  CID (2) | PID (2) | VID (2) | CRPL (2) | Features (2)
//	Element: Loc (2) | NumS (1) | NumV (1) | SIG models (NumS x 2) | Vendor models (NumV x 4)
//
// Vendor models are encoded as company ID followed by model ID. All
// multi-byte fields are little-endian.
//
// FindNextVendorModel walks the record with an explicit Cursor so a caller
// can pull matching vendor models one at a time across calls. Every read is
// bounds-checked against the record length; a record that claims more models
// than it holds simply ends the scan.
package composition
