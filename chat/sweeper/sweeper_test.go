package sweeper

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/pinkfuwa/llumen-go/chat/entity"
)

type fakePersistence struct {
	expired      []entity.File
	deletedIDs   []int64
	deleteErrFor int64
}

func (f *fakePersistence) InsertMessage(context.Context, entity.Message) (int64, error) { return 0, nil }
func (f *fakePersistence) UpdateMessage(context.Context, entity.Message) error           { return nil }
func (f *fakePersistence) ListMessagesByChat(context.Context, int64) ([]entity.Message, error) {
	return nil, nil
}
func (f *fakePersistence) FindChat(context.Context, int64) (entity.Chat, error)   { return entity.Chat{}, nil }
func (f *fakePersistence) FindUser(context.Context, int64) (entity.User, error)   { return entity.User{}, nil }
func (f *fakePersistence) FindModel(context.Context, int64) (entity.ModelConfig, error) {
	return entity.ModelConfig{}, nil
}
func (f *fakePersistence) UpdateChatTitle(context.Context, int64, string) error { return nil }
func (f *fakePersistence) InsertFile(context.Context, entity.File) (int64, error) { return 0, nil }

func (f *fakePersistence) DeleteFile(_ context.Context, id int64) error {
	if id == f.deleteErrFor {
		return errors.New("boom")
	}
	f.deletedIDs = append(f.deletedIDs, id)
	return nil
}

func (f *fakePersistence) ListExpiredFiles(context.Context, int64) ([]entity.File, error) {
	return f.expired, nil
}

type fakeBlobStore struct {
	deletedIDs []int64
	errFor     int64
}

func (f *fakeBlobStore) Insert(context.Context, int64, int64, io.Reader) error { return nil }
func (f *fakeBlobStore) Get(context.Context, int64) (io.ReadCloser, error)     { return nil, nil }
func (f *fakeBlobStore) GetVectored(context.Context, int64) ([]byte, error)    { return nil, nil }

func (f *fakeBlobStore) Delete(_ context.Context, id int64) error {
	if id == f.errFor {
		return errors.New("already gone, reported as a real error by this fake")
	}
	f.deletedIDs = append(f.deletedIDs, id)
	return nil
}

func TestSweepOnceDeletesBlobThenRow(t *testing.T) {
	persist := &fakePersistence{expired: []entity.File{{ID: 1}, {ID: 2}}}
	blobs := &fakeBlobStore{}
	s := &Sweeper{Persist: persist, Blobs: blobs}

	s.sweepOnce(context.Background())

	if len(blobs.deletedIDs) != 2 || len(persist.deletedIDs) != 2 {
		t.Fatalf("expected both files' blob and row deleted, got blobs=%v rows=%v", blobs.deletedIDs, persist.deletedIDs)
	}
}

func TestSweepOnceContinuesPastABlobDeleteFailure(t *testing.T) {
	persist := &fakePersistence{expired: []entity.File{{ID: 1}, {ID: 2}}}
	blobs := &fakeBlobStore{errFor: 1}
	s := &Sweeper{Persist: persist, Blobs: blobs}

	s.sweepOnce(context.Background())

	if len(persist.deletedIDs) != 2 {
		t.Fatalf("expected the DB row deleted for both files even though file 1's blob delete failed, got %v", persist.deletedIDs)
	}
}

func TestSweepOnceSkipsRowDeleteOnlyForTheFailingFile(t *testing.T) {
	persist := &fakePersistence{expired: []entity.File{{ID: 1}, {ID: 2}}, deleteErrFor: 1}
	blobs := &fakeBlobStore{}
	s := &Sweeper{Persist: persist, Blobs: blobs}

	s.sweepOnce(context.Background())

	if len(persist.deletedIDs) != 1 || persist.deletedIDs[0] != 2 {
		t.Fatalf("expected only file 2's row deleted, got %v", persist.deletedIDs)
	}
}

func TestSweepOnceNoOpWhenNothingExpired(t *testing.T) {
	persist := &fakePersistence{}
	blobs := &fakeBlobStore{}
	s := &Sweeper{Persist: persist, Blobs: blobs}

	s.sweepOnce(context.Background())

	if len(blobs.deletedIDs) != 0 || len(persist.deletedIDs) != 0 {
		t.Fatal("expected no deletions when ListExpiredFiles returns nothing")
	}
}
