package relay

import _ "embed"

// SchemaSQL is the relay's DDL, applied once at startup via a plain
// Exec. There is no migration framework, matching the teacher's
// reliance on a pre-provisioned schema.
//
//go:embed schema.sql
var SchemaSQL string
