package record

// SchemaVersion is written into every record, checkpoint and snapshot that
// does not carry its own version.
const SchemaVersion = "0.1"
