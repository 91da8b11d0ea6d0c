package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/errdefs"
)

var (
	bucketWorkspaces = []byte("workspaces")
	bucketProjects   = []byte("projects")
	bucketBackups    = []byte("backups")
)

// BoltStore keeps records in a single bbolt file
type BoltStore struct {
	db     *bolt.DB
	logger *zap.Logger
}

// OpenBolt opens (or creates) the database at path
func OpenBolt(path string, logger *zap.Logger) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketWorkspaces, bucketProjects, bucketBackups} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Opened record store", zap.String("path", path))
	return &BoltStore{db: db, logger: logger}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func getJSON(b *bolt.Bucket, key string, v any) (bool, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

// GetWorkspace loads one workspace
func (s *BoltStore) GetWorkspace(ctx context.Context, id string) (*api.Workspace, error) {
	var ws api.Workspace
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketWorkspaces), id, &ws)
		if err != nil {
			return err
		}
		if !ok {
			return errdefs.NotFound("store.get", "workspace:"+id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

// ListWorkspaces returns every workspace ordered by id
func (s *BoltStore) ListWorkspaces(ctx context.Context) ([]*api.Workspace, error) {
	var out []*api.Workspace
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkspaces).ForEach(func(k, v []byte) error {
			var ws api.Workspace
			if err := json.Unmarshal(v, &ws); err != nil {
				s.logger.Error("Skipping corrupt workspace record", zap.ByteString("key", k), zap.Error(err))
				return nil
			}
			out = append(out, &ws)
			return nil
		})
	})
	return out, err
}

// CreateWorkspace inserts a new workspace
func (s *BoltStore) CreateWorkspace(ctx context.Context, ws *api.Workspace) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkspaces)
		if b.Get([]byte(ws.ID)) != nil {
			return errdefs.Conflict("store.create", "workspace:"+ws.ID, "workspace already exists")
		}
		return putJSON(b, ws.ID, ws)
	})
}

// UpdateWorkspace runs fn inside a write transaction
func (s *BoltStore) UpdateWorkspace(ctx context.Context, id string, fn func(*api.Workspace) error) (*api.Workspace, error) {
	var ws api.Workspace
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkspaces)
		ok, err := getJSON(b, id, &ws)
		if err != nil {
			return err
		}
		if !ok {
			return errdefs.NotFound("store.update", "workspace:"+id)
		}
		if err := fn(&ws); err != nil {
			return err
		}
		ws.UpdatedAt = time.Now().UTC()
		return putJSON(b, id, &ws)
	})
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

// DeleteWorkspace removes a workspace record
func (s *BoltStore) DeleteWorkspace(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkspaces)
		if b.Get([]byte(id)) == nil {
			return errdefs.NotFound("store.delete", "workspace:"+id)
		}
		return b.Delete([]byte(id))
	})
}

// GetProject loads one project
func (s *BoltStore) GetProject(ctx context.Context, id string) (*api.Project, error) {
	var p api.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketProjects), id, &p)
		if err != nil {
			return err
		}
		if !ok {
			return errdefs.NotFound("store.get", "project:"+id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns every project ordered by id
func (s *BoltStore) ListProjects(ctx context.Context) ([]*api.Project, error) {
	var out []*api.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var p api.Project
			if err := json.Unmarshal(v, &p); err != nil {
				s.logger.Error("Skipping corrupt project record", zap.ByteString("key", k), zap.Error(err))
				return nil
			}
			out = append(out, &p)
			return nil
		})
	})
	return out, err
}

// CreateProject inserts a new project
func (s *BoltStore) CreateProject(ctx context.Context, p *api.Project) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		if b.Get([]byte(p.ID)) != nil {
			return errdefs.Conflict("store.create", "project:"+p.ID, "project already exists")
		}
		return putJSON(b, p.ID, p)
	})
}

// UpdateProject runs fn inside a write transaction
func (s *BoltStore) UpdateProject(ctx context.Context, id string, fn func(*api.Project) error) (*api.Project, error) {
	var p api.Project
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		ok, err := getJSON(b, id, &p)
		if err != nil {
			return err
		}
		if !ok {
			return errdefs.NotFound("store.update", "project:"+id)
		}
		if err := fn(&p); err != nil {
			return err
		}
		p.UpdatedAt = time.Now().UTC()
		return putJSON(b, id, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteProject removes a project record; its backup log is kept
func (s *BoltStore) DeleteProject(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		if b.Get([]byte(id)) == nil {
			return errdefs.NotFound("store.delete", "project:"+id)
		}
		return b.Delete([]byte(id))
	})
}

// AppendBackup adds a record under a per-project sub-bucket keyed by sequence
func (s *BoltStore) AppendBackup(ctx context.Context, rec api.BackupRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketBackups).CreateBucketIfNotExists([]byte(rec.ProjectID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return putJSON(b, fmt.Sprintf("%020d", seq), rec)
	})
}

// ListBackups returns a project's backups oldest first
func (s *BoltStore) ListBackups(ctx context.Context, projectID string) ([]api.BackupRecord, error) {
	var out []api.BackupRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBackups).Bucket([]byte(projectID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec api.BackupRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt backup record %s/%s: %w", projectID, k, err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}
