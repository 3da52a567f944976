package dialrun

import "github.com/xraph/dialrun/id"

// ID is the primary identifier type for all dialrun entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
