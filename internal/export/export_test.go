package export

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arborworks/arbor/internal/domain/tree"
	"github.com/arborworks/arbor/internal/infrastructure/sqlite"
	"github.com/arborworks/arbor/internal/testutil"
)

func setRank(t *testing.T, db *sqlite.DB, id uuid.UUID, rank int) {
	t.Helper()
	err := db.InTx(context.Background(), func(s tree.Store) error {
		return s.Messages().SetRank(context.Background(), id, rank)
	})
	require.NoError(t, err)
}

func TestExportReadyTrees(t *testing.T) {
	db := testutil.NewStore(t)
	ctx := context.Background()
	alice := testutil.NewUser(t, db, "alice")

	done := testutil.NewTree(t, db, alice,
		testutil.WithState(tree.StateReadyForExport, false), testutil.WithRootText("the prompt"))
	worse := done.Reply(done.RootID, "second best")
	best := done.Reply(done.RootID, "best answer")
	unranked := done.Reply(done.RootID, "unranked")
	setRank(t, db, worse, 1)
	setRank(t, db, best, 0)

	// Still-growing trees never export.
	testutil.NewTree(t, db, alice)

	trees, err := ExportReadyTrees(ctx, db)
	require.NoError(t, err)
	require.Len(t, trees, 1)

	got := trees[0]
	require.Equal(t, done.TreeID, got.MessageTreeID)
	require.Equal(t, "ready_for_export", got.State)
	require.Equal(t, "the prompt", got.Prompt.Text)
	require.Equal(t, "prompter", got.Prompt.Role)

	require.Len(t, got.Prompt.Replies, 3)
	require.Equal(t, best, got.Prompt.Replies[0].ID)
	require.Equal(t, worse, got.Prompt.Replies[1].ID)
	require.Equal(t, unranked, got.Prompt.Replies[2].ID)
	require.Nil(t, got.Prompt.Replies[2].Rank)
}

func TestExportSkipsDeletedMessages(t *testing.T) {
	db := testutil.NewStore(t)
	alice := testutil.NewUser(t, db, "alice")

	b := testutil.NewTree(t, db, alice, testutil.WithState(tree.StateReadyForExport, false))
	b.Reply(b.RootID, "kept")
	b.Reply(b.RootID, "rejected", testutil.SoftDeleted())

	trees, err := ExportReadyTrees(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, trees, 1)
	require.Len(t, trees[0].Prompt.Replies, 1)
	require.Equal(t, "kept", trees[0].Prompt.Replies[0].Text)
}

func TestExportUserTrees(t *testing.T) {
	db := testutil.NewStore(t)
	ctx := context.Background()
	alice := testutil.NewUser(t, db, "alice")
	bob := testutil.NewUser(t, db, "bob")

	mine := testutil.NewTree(t, db, alice)
	contributed := testutil.NewTree(t, db, bob)
	contributed.Reply(contributed.RootID, "alice was here", testutil.ByUser(alice))
	testutil.NewTree(t, db, bob) // untouched by alice

	trees, err := ExportUserTrees(ctx, db, alice)
	require.NoError(t, err)
	require.Len(t, trees, 2)

	ids := []uuid.UUID{trees[0].MessageTreeID, trees[1].MessageTreeID}
	require.ElementsMatch(t, []uuid.UUID{mine.TreeID, contributed.TreeID}, ids)
}

func TestWriteTrees_JSONL(t *testing.T) {
	db := testutil.NewStore(t)
	alice := testutil.NewUser(t, db, "alice")
	testutil.NewTree(t, db, alice, testutil.WithState(tree.StateReadyForExport, false))
	testutil.NewTree(t, db, alice, testutil.WithState(tree.StateReadyForExport, false))

	trees, err := ExportReadyTrees(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, trees, 2)

	var buf bytes.Buffer
	require.NoError(t, WriteTrees(&buf, trees))

	scanner := bufio.NewScanner(&buf)
	lines := 0
	for scanner.Scan() {
		var decoded Tree
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &decoded))
		require.NotNil(t, decoded.Prompt)
		lines++
	}
	require.NoError(t, scanner.Err())
	require.Equal(t, 2, lines)
}

func TestWriteFile_Gzip(t *testing.T) {
	db := testutil.NewStore(t)
	alice := testutil.NewUser(t, db, "alice")
	testutil.NewTree(t, db, alice, testutil.WithState(tree.StateReadyForExport, false))

	trees, err := ExportReadyTrees(context.Background(), db)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "trees.jsonl.gz")
	require.NoError(t, WriteFile(path, trees))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()

	var decoded Tree
	require.NoError(t, json.NewDecoder(zr).Decode(&decoded))
	require.Equal(t, trees[0].MessageTreeID, decoded.MessageTreeID)
}
