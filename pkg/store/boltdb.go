package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ontosys/omscore/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketBranches     = []byte("branches")
	bucketEntities     = []byte("entities")
	bucketEntityByName = []byte("entities_by_apiname")
	bucketLocks        = []byte("locks")
	bucketLockAudit    = []byte("lock_audit")
	bucketOutbox       = []byte("outbox")
	bucketAudit        = []byte("audit")
	bucketShadowIndex  = []byte("shadow_index")
	bucketChangeSet    = []byte("changeset")
	bucketCommit       = []byte("commit")
	bucketCA           = []byte("ca")
	bucketConsumerTrk  = []byte("event_consumer_tracking")
)

var allBuckets = [][]byte{
	bucketBranches,
	bucketEntities,
	bucketEntityByName,
	bucketLocks,
	bucketLockAudit,
	bucketOutbox,
	bucketAudit,
	bucketShadowIndex,
	bucketChangeSet,
	bucketCommit,
	bucketCA,
	bucketConsumerTrk,
}

// consumerTrackingKey is the (consumer_name, event_id) composite key
// event_consumer_tracking is keyed by, matching the UNIQUE(consumer_name,
// event_id) constraint a SQL rendition of this table would carry.
func consumerTrackingKey(consumerName, eventID string) []byte {
	return []byte(consumerName + "\x00" + eventID)
}

// BoltStore implements Store using bbolt: single-writer, ACID,
// crash-consistent via its write-ahead mmap log.
type BoltStore struct {
	db       *bolt.DB
	advisory *advisoryTable
}

// NewBoltStore opens (creating if absent) a bbolt database under dataDir
// and ensures every bucket this package uses exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "oms.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, advisory: newAdvisoryTable()}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) AdvisoryLock(key []byte, timeout time.Duration) (func(), bool) {
	return s.advisory.tryLock(key, timeout)
}

func (s *BoltStore) WithTx(fn func(tx *Tx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

// --- Branches ---

func putBranch(tx *bolt.Tx, branch *types.Branch) error {
	data, err := marshalJSON(branch)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketBranches).Put([]byte(branch.Name), data)
}

func (s *BoltStore) CreateBranch(branch *types.Branch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putBranch(tx, branch)
	})
}

func getBranch(tx *bolt.Tx, name string) (*types.Branch, error) {
	data := tx.Bucket(bucketBranches).Get([]byte(name))
	if data == nil {
		return nil, &ErrNotFound{Kind: "branch", Key: name}
	}
	var branch types.Branch
	if err := json.Unmarshal(data, &branch); err != nil {
		return nil, err
	}
	return &branch, nil
}

func (s *BoltStore) GetBranch(name string) (*types.Branch, error) {
	var branch *types.Branch
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		branch, err = getBranch(tx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return branch, nil
}

func (s *BoltStore) ListBranches() ([]*types.Branch, error) {
	var branches []*types.Branch
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBranches).ForEach(func(k, v []byte) error {
			var branch types.Branch
			if err := json.Unmarshal(v, &branch); err != nil {
				return err
			}
			branches = append(branches, &branch)
			return nil
		})
	})
	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	return branches, err
}

func updateBranch(tx *bolt.Tx, branch *types.Branch, expectedVersion int64) error {
	current, err := getBranch(tx, branch.Name)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return &ErrVersionConflict{Kind: "branch", Key: branch.Name, Expected: expectedVersion, Actual: current.Version}
	}
	branch.Version = current.Version + 1
	return putBranch(tx, branch)
}

func (s *BoltStore) UpdateBranch(branch *types.Branch, expectedVersion int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return updateBranch(tx, branch, expectedVersion)
	})
}

// --- Schema entities ---

func entityKey(branch string, kind types.EntityKind, rid string) []byte {
	return []byte(branch + "\x00" + string(kind) + "\x00" + rid)
}

func entityNameKey(branch string, kind types.EntityKind, apiName string) []byte {
	return []byte(branch + "\x00" + string(kind) + "\x00" + apiName)
}

func putEntity(tx *bolt.Tx, entity *types.SchemaEntity) error {
	data, err := marshalJSON(entity)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketEntities).Put(entityKey(entity.Branch, entity.Kind, entity.Rid), data); err != nil {
		return err
	}
	return tx.Bucket(bucketEntityByName).Put(entityNameKey(entity.Branch, entity.Kind, entity.APIName), []byte(entity.Rid))
}

func deleteEntity(tx *bolt.Tx, branch string, kind types.EntityKind, rid string) error {
	b := tx.Bucket(bucketEntities)
	data := b.Get(entityKey(branch, kind, rid))
	if data == nil {
		return &ErrNotFound{Kind: "entity", Key: rid}
	}
	var entity types.SchemaEntity
	if err := json.Unmarshal(data, &entity); err != nil {
		return err
	}
	if err := tx.Bucket(bucketEntityByName).Delete(entityNameKey(branch, kind, entity.APIName)); err != nil {
		return err
	}
	return b.Delete(entityKey(branch, kind, rid))
}

func (s *BoltStore) CreateEntity(entity *types.SchemaEntity) error {
	if entity.Rid == "" {
		entity.Rid = uuid.NewString()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putEntity(tx, entity)
	})
}

func getEntity(tx *bolt.Tx, branch string, kind types.EntityKind, rid string) (*types.SchemaEntity, error) {
	data := tx.Bucket(bucketEntities).Get(entityKey(branch, kind, rid))
	if data == nil {
		return nil, &ErrNotFound{Kind: "entity", Key: rid}
	}
	var entity types.SchemaEntity
	if err := json.Unmarshal(data, &entity); err != nil {
		return nil, err
	}
	return &entity, nil
}

func (s *BoltStore) GetEntity(branch string, kind types.EntityKind, rid string) (*types.SchemaEntity, error) {
	var entity *types.SchemaEntity
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		entity, err = getEntity(tx, branch, kind, rid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

func (s *BoltStore) GetEntityByAPIName(branch string, kind types.EntityKind, apiName string) (*types.SchemaEntity, error) {
	var rid string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEntityByName).Get(entityNameKey(branch, kind, apiName))
		if data == nil {
			return &ErrNotFound{Kind: "entity", Key: apiName}
		}
		rid = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetEntity(branch, kind, rid)
}

func (s *BoltStore) ListEntities(branch string, kind types.EntityKind) ([]*types.SchemaEntity, error) {
	prefix := []byte(branch + "\x00" + string(kind) + "\x00")
	var entities []*types.SchemaEntity
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntities).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var entity types.SchemaEntity
			if err := json.Unmarshal(v, &entity); err != nil {
				return err
			}
			entities = append(entities, &entity)
		}
		return nil
	})
	return entities, err
}

func updateEntity(tx *bolt.Tx, entity *types.SchemaEntity, expectedVersion int64) error {
	current, err := getEntity(tx, entity.Branch, entity.Kind, entity.Rid)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return &ErrVersionConflict{Kind: "entity", Key: entity.Rid, Expected: expectedVersion, Actual: current.Version}
	}
	entity.Version = current.Version + 1
	if current.APIName != entity.APIName {
		if err := tx.Bucket(bucketEntityByName).Delete(entityNameKey(current.Branch, current.Kind, current.APIName)); err != nil {
			return err
		}
	}
	return putEntity(tx, entity)
}

func (s *BoltStore) UpdateEntity(entity *types.SchemaEntity, expectedVersion int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return updateEntity(tx, entity, expectedVersion)
	})
}

func (s *BoltStore) DeleteEntity(branch string, kind types.EntityKind, rid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteEntity(tx, branch, kind, rid)
	})
}

// --- Locks ---

func putLock(tx *bolt.Tx, lock *types.Lock) error {
	data, err := marshalJSON(lock)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketLocks).Put([]byte(lock.ID), data)
}

func (s *BoltStore) PutLock(lock *types.Lock) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putLock(tx, lock)
	})
}

func (s *BoltStore) GetLock(id string) (*types.Lock, error) {
	var lock types.Lock
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLocks).Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Kind: "lock", Key: id}
		}
		return json.Unmarshal(data, &lock)
	})
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

func (s *BoltStore) ListLocksByBranch(branch string) ([]*types.Lock, error) {
	var locks []*types.Lock
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocks).ForEach(func(k, v []byte) error {
			var lock types.Lock
			if err := json.Unmarshal(v, &lock); err != nil {
				return err
			}
			if lock.Branch == branch {
				locks = append(locks, &lock)
			}
			return nil
		})
	})
	return locks, err
}

func (s *BoltStore) DeleteLock(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocks).Delete([]byte(id))
	})
}

func appendLockAudit(tx *bolt.Tx, entry *types.LockAuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	data, err := marshalJSON(entry)
	if err != nil {
		return err
	}
	key := []byte(entry.LockID + "\x00" + entry.Time.UTC().Format(time.RFC3339Nano) + "\x00" + entry.ID)
	return tx.Bucket(bucketLockAudit).Put(key, data)
}

func (s *BoltStore) AppendLockAudit(entry *types.LockAuditEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return appendLockAudit(tx, entry)
	})
}

func (s *BoltStore) ListLockAudit(lockID string) ([]*types.LockAuditEntry, error) {
	prefix := []byte(lockID + "\x00")
	var entries []*types.LockAuditEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLockAudit).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var entry types.LockAuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	return entries, err
}

// --- Outbox ---

func insertOutbox(tx *bolt.Tx, record *types.OutboxRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.EventID == "" {
		record.EventID = uuid.NewString()
	}
	data, err := marshalJSON(record)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketOutbox).Put([]byte(record.ID), data)
}

func (s *BoltStore) InsertOutbox(record *types.OutboxRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return insertOutbox(tx, record)
	})
}

// ClaimPendingOutbox atomically flips up to limit due records (status
// pending, or failed with NextRetryAt <= now) to processing and returns
// them, so a single dispatch tick never double-sends a row to two
// dispatcher goroutines.
func (s *BoltStore) ClaimPendingOutbox(limit int, now time.Time) ([]*types.OutboxRecord, error) {
	var claimed []*types.OutboxRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOutbox)
		return b.ForEach(func(k, v []byte) error {
			if len(claimed) >= limit {
				return nil
			}
			var record types.OutboxRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			due := record.Status == types.OutboxPendingStatus ||
				(record.Status == types.OutboxFailedStatus && record.NextRetryAt != nil && !now.Before(*record.NextRetryAt))
			if !due {
				return nil
			}
			record.Status = types.OutboxProcessingStatus
			data, err := marshalJSON(&record)
			if err != nil {
				return err
			}
			if err := b.Put(k, data); err != nil {
				return err
			}
			claimed = append(claimed, &record)
			return nil
		})
	})
	return claimed, err
}

func (s *BoltStore) UpdateOutbox(record *types.OutboxRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := marshalJSON(record)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketOutbox).Put([]byte(record.ID), data)
	})
}

func (s *BoltStore) ListOutboxByStatus(status types.OutboxStatus) ([]*types.OutboxRecord, error) {
	var records []*types.OutboxRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).ForEach(func(k, v []byte) error {
			var record types.OutboxRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if record.Status == status {
				records = append(records, &record)
			}
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) CountOutboxByStatus(status types.OutboxStatus) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).ForEach(func(k, v []byte) error {
			var record types.OutboxRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if record.Status == status {
				count++
			}
			return nil
		})
	})
	return count, err
}

// --- Event consumer tracking ---

// WasEventConsumed reports whether consumerName has already recorded
// processing eventID, so a caller delivered the same event twice (an
// outbox retry after an unconfirmed publish, or a broker replay) can skip
// reapplying its side effects.
func (s *BoltStore) WasEventConsumed(consumerName, eventID string) (bool, error) {
	var consumed bool
	err := s.db.View(func(tx *bolt.Tx) error {
		consumed = tx.Bucket(bucketConsumerTrk).Get(consumerTrackingKey(consumerName, eventID)) != nil
		return nil
	})
	return consumed, err
}

// MarkEventConsumed records that record.ConsumerName finished processing
// record.EventID, so a subsequent WasEventConsumed call for the same pair
// reports true.
func (s *BoltStore) MarkEventConsumed(record *types.ConsumerTrackingRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if record.ProcessedAt.IsZero() {
			record.ProcessedAt = time.Now().UTC()
		}
		if record.Status == "" {
			record.Status = "processed"
		}
		data, err := marshalJSON(record)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConsumerTrk).Put(consumerTrackingKey(record.ConsumerName, record.EventID), data)
	})
}

// --- Audit ---

func appendAuditRecord(tx *bolt.Tx, record *types.AuditRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	data, err := marshalJSON(record)
	if err != nil {
		return err
	}
	key := []byte(record.Branch + "\x00" + record.Time.UTC().Format(time.RFC3339Nano) + "\x00" + record.ID)
	return tx.Bucket(bucketAudit).Put(key, data)
}

func (s *BoltStore) AppendAuditRecord(record *types.AuditRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return appendAuditRecord(tx, record)
	})
}

func (s *BoltStore) ListAuditRecords(branch string, limit int) ([]*types.AuditRecord, error) {
	prefix := []byte(branch + "\x00")
	var records []*types.AuditRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var record types.AuditRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
		}
		return nil
	})
	// newest first
	sort.Slice(records, func(i, j int) bool { return records[i].Time.After(records[j].Time) })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, err
}

func (s *BoltStore) PurgeAuditRecords(shouldDelete func(*types.AuditRecord) bool) (int, error) {
	purged := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var record types.AuditRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if shouldDelete(&record) {
				if err := c.Delete(); err != nil {
					return err
				}
				purged++
			}
		}
		return nil
	})
	return purged, err
}

// --- Shadow indexes ---

func putShadowIndex(tx *bolt.Tx, idx *types.ShadowIndex) error {
	if idx.ID == "" {
		idx.ID = uuid.NewString()
	}
	data, err := marshalJSON(idx)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketShadowIndex).Put([]byte(idx.ID), data)
}

func (s *BoltStore) CreateShadowIndex(idx *types.ShadowIndex) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putShadowIndex(tx, idx)
	})
}

func (s *BoltStore) GetShadowIndex(id string) (*types.ShadowIndex, error) {
	var idx types.ShadowIndex
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketShadowIndex).Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Kind: "shadow_index", Key: id}
		}
		return json.Unmarshal(data, &idx)
	})
	if err != nil {
		return nil, err
	}
	return &idx, nil
}

func (s *BoltStore) UpdateShadowIndex(idx *types.ShadowIndex) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putShadowIndex(tx, idx)
	})
}

func (s *BoltStore) ListShadowIndexesByBranch(branch string) ([]*types.ShadowIndex, error) {
	var indexes []*types.ShadowIndex
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketShadowIndex).ForEach(func(k, v []byte) error {
			var idx types.ShadowIndex
			if err := json.Unmarshal(v, &idx); err != nil {
				return err
			}
			if idx.Branch == branch {
				indexes = append(indexes, &idx)
			}
			return nil
		})
	})
	return indexes, err
}

// --- ChangeSets ---

func putChangeSet(tx *bolt.Tx, cs *types.ChangeSet) error {
	if cs.ID == "" {
		cs.ID = uuid.NewString()
	}
	data, err := marshalJSON(cs)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketChangeSet).Put([]byte(cs.ID), data)
}

func (s *BoltStore) CreateChangeSet(cs *types.ChangeSet) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putChangeSet(tx, cs)
	})
}

func (s *BoltStore) GetChangeSet(id string) (*types.ChangeSet, error) {
	var cs types.ChangeSet
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketChangeSet).Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Kind: "changeset", Key: id}
		}
		return json.Unmarshal(data, &cs)
	})
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

func (s *BoltStore) UpdateChangeSet(cs *types.ChangeSet) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putChangeSet(tx, cs)
	})
}

func (s *BoltStore) ListChangeSetsByBranch(branch string) ([]*types.ChangeSet, error) {
	var sets []*types.ChangeSet
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChangeSet).ForEach(func(k, v []byte) error {
			var cs types.ChangeSet
			if err := json.Unmarshal(v, &cs); err != nil {
				return err
			}
			if cs.SourceBranch == branch || cs.TargetBranch == branch {
				sets = append(sets, &cs)
			}
			return nil
		})
	})
	return sets, err
}

// --- Commits ---

func putCommit(tx *bolt.Tx, commit *types.Commit) error {
	if commit.ID == "" {
		commit.ID = uuid.NewString()
	}
	data, err := marshalJSON(commit)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketCommit).Put([]byte(commit.ID), data)
}

func (s *BoltStore) CreateCommit(commit *types.Commit) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putCommit(tx, commit)
	})
}

func (s *BoltStore) GetCommit(id string) (*types.Commit, error) {
	var commit types.Commit
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCommit).Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Kind: "commit", Key: id}
		}
		return json.Unmarshal(data, &commit)
	})
	if err != nil {
		return nil, err
	}
	return &commit, nil
}

func (s *BoltStore) UpdateCommit(commit *types.Commit) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putCommit(tx, commit)
	})
}

func (s *BoltStore) ListCommitsByBranch(branch string) ([]*types.Commit, error) {
	var commits []*types.Commit
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCommit).ForEach(func(k, v []byte) error {
			var commit types.Commit
			if err := json.Unmarshal(v, &commit); err != nil {
				return err
			}
			if commit.Branch == branch {
				commits = append(commits, &commit)
			}
			return nil
		})
	})
	return commits, err
}

// --- Certificate authority ---

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put([]byte("ca"), data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCA).Get([]byte("ca"))
		if raw == nil {
			return &ErrNotFound{Kind: "ca", Key: "ca"}
		}
		data = make([]byte, len(raw))
		copy(data, raw)
		return nil
	})
	return data, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
