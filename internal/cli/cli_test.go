package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/replog"
)

const peopleScript = `
classes:
  - name: Person
    primary_key: {name: name, type: string}
    properties:
      - {name: age, type: int}
      - {name: tags, type: string, collection: list}
      - {name: best_friend, link: Person}
transactions:
  - name: create
    steps:
      - {op: create, class: Person, pk: alice, as: alice, values: {age: 30}}
      - {op: create, class: Person, pk: bob, as: bob, values: {best_friend: alice}}
      - {op: insert, object: alice, prop: tags, value: admin}
  - name: dropped
    abort: true
    steps:
      - {op: remove, object: alice}
  - steps:
      - {op: set, object: alice, values: {age: 31}}
`

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEncode_printsChangesets(t *testing.T) {
	script := writeScript(t, peopleScript)

	out, err := run(t, "encode", script)
	require.NoError(t, err)

	assert.Contains(t, out, "# schema: version 1 (")
	assert.Contains(t, out, "# create: version 2 (")
	assert.Contains(t, out, "# dropped: rolled back\n")
	assert.Contains(t, out, "# transaction 3: version 3 (")
	assert.Contains(t, out, "insert-group-level-table table=0")
	assert.Contains(t, out, "collection-insert index=0")
	assert.NotContains(t, out, "remove-object")
}

func TestEncode_journalAndDump(t *testing.T) {
	script := writeScript(t, peopleScript)
	dir := filepath.Join(t.TempDir(), "wal")

	_, err := run(t, "encode", script, "--journal", dir, "--durable")
	require.NoError(t, err)

	out, err := run(t, "dump", "--journal", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "# version 1 (from 0) at ")
	assert.Contains(t, out, "# version 2 (from 1) at ")
	assert.Contains(t, out, "# version 3 (from 2) at ")
	assert.Equal(t, 3, strings.Count(out, "# version "))

	out, err = run(t, "dump", "--journal", dir, "--from", "3")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "# version "))
	assert.Contains(t, out, "modify-object")
}

func TestDump_emptyJournal(t *testing.T) {
	out, err := run(t, "dump", "--journal", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No changesets found.\n", out)
}

func TestEncode_boltHistory(t *testing.T) {
	script := writeScript(t, peopleScript)
	db := filepath.Join(t.TempDir(), "history.db")

	_, err := run(t, "encode", script, "--db", db)
	require.NoError(t, err)
	out, err := run(t, "encode", script, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "# schema: version 4 (")
	assert.Contains(t, out, "# transaction 3: version 6 (")

	out, err = run(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, ", latest version 6\n6 changesets, ")
	assert.Equal(t, 6, strings.Count(out, "# version "))

	out, err = run(t, "history", "--db", db, "--trim", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "trimmed 4 changesets\n2 changesets, ")
	assert.Equal(t, 2, strings.Count(out, "# version "))
	assert.Contains(t, out, "# version 5 (from 4) at ")
}

func TestEncode_streamFile(t *testing.T) {
	script := writeScript(t, peopleScript)
	path := filepath.Join(t.TempDir(), "changeset")

	expected, err := run(t, "encode", script)
	require.NoError(t, err)
	out, err := run(t, "encode", script, "--stream-file", path, "--stream-limit", "4096")
	require.NoError(t, err)
	assert.Equal(t, expected, out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	instrs, err := replog.ParseChangeset(data)
	require.NoError(t, err)
	assert.Equal(t, replog.InstrModifyObject, instrs[len(instrs)-1].Op)
}

func TestEncode_streamFileKeepsLastCommit(t *testing.T) {
	script := writeScript(t, `
classes:
  - name: Person
    primary_key: {name: name, type: string}
    properties:
      - {name: age, type: int}
transactions:
  - name: create
    steps:
      - {op: create, class: Person, pk: alice, as: alice, values: {age: 30}}
  - name: dropped
    abort: true
    steps:
      - {op: remove, object: alice}
      - {op: create, class: Person, pk: bob, values: {age: 1}}
`)
	path := filepath.Join(t.TempDir(), "changeset")

	out, err := run(t, "encode", script, "--stream-file", path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "# dropped: rolled back\n"))

	// the dump of the last commit sits between its header and the next one
	_, section, ok := strings.Cut(out, "# create: version 2 (")
	require.True(t, ok)
	_, section, _ = strings.Cut(section, "\n")
	section, _, _ = strings.Cut(section, "# dropped")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	dump, err := replog.DumpChangeset(data)
	require.NoError(t, err)
	assert.Equal(t, section, dump)
	assert.NotContains(t, dump, "remove-object")
}

func TestEncode_streamLimit(t *testing.T) {
	script := writeScript(t, peopleScript)

	_, err := run(t, "encode", script, "--stream-limit", "8")
	require.Error(t, err)
	assert.ErrorIs(t, err, replog.ErrStreamLimit)
	assert.Contains(t, err.Error(), "schema: ")
}

func TestEncode_verboseLogsToStderr(t *testing.T) {
	script := writeScript(t, peopleScript)

	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"encode", script, "-v"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, errOut.String(), "add class")
	assert.Contains(t, errOut.String(), "create object")
	assert.NotContains(t, out.String(), "add class")
}

func TestEncode_errors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		args   []string
		errMsg string
	}{
		{
			name:   "unknown op",
			script: "transactions:\n  - steps:\n      - {op: explode}\n",
			errMsg: `transaction 1: step 1 (explode): unknown op "explode"`,
		},
		{
			name:   "unknown alias",
			script: "classes:\n  - name: A\n    properties: [{name: n, type: int}]\ntransactions:\n  - steps:\n      - {op: set, object: nope, values: {n: 1}}\n",
			errMsg: `unknown object "nope"`,
		},
		{
			name:   "wrong value type",
			script: "classes:\n  - name: A\n    properties: [{name: n, type: int}]\ntransactions:\n  - steps:\n      - {op: create, class: A, values: {n: hello}}\n",
			errMsg: "n: expected int, got string",
		},
		{
			name:   "embedded primary key",
			script: "classes:\n  - name: A\n    embedded: true\n    primary_key: {name: id, type: int}\n",
			errMsg: "embedded classes cannot have a primary key",
		},
		{
			name:   "journal and db together",
			script: peopleScript,
			args:   []string{"--journal", "x", "--db", "y"},
			errMsg: "none of the others can be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScript(t, tt.script)
			_, err := run(t, append([]string{"encode", path}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRequiredFlags(t *testing.T) {
	_, err := run(t, "dump")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "journal" not set`)

	_, err = run(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "db" not set`)
}

func TestParseScript(t *testing.T) {
	s, err := ParseScript([]byte(peopleScript))
	require.NoError(t, err)
	require.Len(t, s.Classes, 1)
	assert.Equal(t, "name", s.Classes[0].PrimaryKey.Name)
	require.Len(t, s.Transactions, 3)
	assert.True(t, s.Transactions[1].Abort)
	assert.Equal(t, "alice", s.Transactions[0].Steps[0].PK)

	_, err = ParseScript([]byte("classes: []\nbogus: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")

	_, err = ParseScript([]byte("transactions: []\n"))
	assert.EqualError(t, err, "script is empty")

	_, err = ParseScript([]byte("transactions:\n  - name: x\n"))
	assert.EqualError(t, err, "transaction 1 has no steps")
}
