/*
Package replog records the mutations of an embedded object database
transaction as a compact changeset: a byte stream of instructions that a
decoder replays in order, for persisting as a transaction log or for shipping
to other replicas.

The storage engine calls one Replication method per logical change. We
implement:

1. Selection tracking. Instructions are interpreted relative to a currently
selected table, object and collection. The encoder keeps the same selection a
decoder would have, and only writes a select instruction when the addressing
context actually changes, so a run of mutations on one table costs a single
select-table.

2. Instruction emission, one method per mutation kind (see Replication), or a
single Apply entry point taking a Mutation value.

3. The changeset buffer lifecycle: InitiateTransact binds a Stream,
PrepareCommit hands the finalized bytes to a History and mints the next
version.

4. Optional diagnostics through a Logger (*slog.Logger works). With a nil
logger no descriptions are ever built.

# Selection rules

Selecting a table clears the selected object and collection. Selecting a
different object clears the selected collection. Adding or erasing a class
clears everything, because table keys may be reused. Removing the selected
object clears it, and erasing the column of the selected collection clears
the collection.

Writes of column defaults during object creation (InstrSetDefault) are not
recorded at all: decoders apply the same defaults when replaying the
create-object instruction.

# Binary encoding

**Instruction**: tag byte, then arguments (see Encoder):

1. Table keys, indices and sizes are uvarints.
2. Object keys are zig-zag varints.
3. Column keys are index (uvarint), type, collection kind and nullability
(one byte each).
4. Paths are an element count followed by tagged elements.

Every instruction is self-delimiting; there is no changeset header. The
framing can be checked with ParseChangeset.

# Errors

Calls that break the calling conventions (selecting a collection before its
owner, a primary key on an embedded class, writing past a fixed stream) panic
with *ContractError or *OverflowError. A stream that fails to grow returns an
error from the mutation method; the mutation leaves no bytes behind, but the
transaction cannot be committed.
*/
package replog
