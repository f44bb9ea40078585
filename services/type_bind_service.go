package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"vodcms-collect-api/config"
	"vodcms-collect-api/models"
	"vodcms-collect-api/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidTypeBind    = errors.New("source_id, remote_type_id and local_type_id are required")
	ErrRemoteTypesFetch   = errors.New("failed to fetch remote types")
	ErrRemoteTypesBaseURL = errors.New("base_url must be an http(s) url")
)

const (
	typeBindKeyPrefix       = "type_bind:"
	defaultTypeBindTTL      = time.Hour
	remoteTypesFetchTimeout = 15 * time.Second
	remoteTypesMaxBody      = 4 << 20
)

// TypeBindInput is one remote-to-local category mapping.
type TypeBindInput struct {
	SourceID       uint   `json:"source_id"`
	RemoteTypeID   int    `json:"remote_type_id"`
	RemoteTypeName string `json:"remote_type_name"`
	LocalTypeID    int    `json:"local_type_id"`
}

// RemoteType is one category advertised by a source's ?ac=list endpoint.
type RemoteType struct {
	TypeID   FlexInt    `json:"type_id"`
	TypeName FlexString `json:"type_name"`
	TypePid  FlexInt    `json:"type_pid"`
}

type bindMapEntry struct {
	binds     map[int]int
	expiresAt time.Time
}

// TypeBindService resolves remote category ids per source. Lookups try the
// distributed cache, then an in-process map, then the database.
type TypeBindService struct {
	db     *gorm.DB
	cache  KVCache
	ttl    time.Duration
	client *http.Client

	mu     sync.RWMutex
	memory map[uint]bindMapEntry
}

func NewTypeBindService(db *gorm.DB, cache KVCache, ttl time.Duration) *TypeBindService {
	if db == nil {
		db = config.DB
	}
	if ttl <= 0 {
		ttl = defaultTypeBindTTL
	}
	return &TypeBindService{
		db:     db,
		cache:  cache,
		ttl:    ttl,
		client: &http.Client{Timeout: remoteTypesFetchTimeout},
		memory: make(map[uint]bindMapEntry),
	}
}

func typeBindKey(sourceID uint) string {
	return fmt.Sprintf("%s%d", typeBindKeyPrefix, sourceID)
}

// BindMap returns remote type id -> local type id for a source. An empty map means
// the source has no bindings and remote ids pass through.
func (s *TypeBindService) BindMap(ctx context.Context, sourceID uint) (map[int]int, error) {
	if sourceID == 0 {
		return map[int]int{}, nil
	}
	key := typeBindKey(sourceID)

	if s.cache != nil {
		raw, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			log.Printf("type bind: cache get %s failed, using memory: %v", key, err)
		} else if ok {
			binds := map[int]int{}
			if err := json.Unmarshal([]byte(raw), &binds); err == nil {
				return binds, nil
			}
			log.Printf("type bind: ignoring malformed cache entry %s", key)
		}
	}

	if binds, ok := s.fromMemory(sourceID); ok {
		return binds, nil
	}

	binds, err := s.loadBinds(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, sourceID, binds)
	return copyBinds(binds), nil
}

func (s *TypeBindService) fromMemory(sourceID uint) (map[int]int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.memory[sourceID]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return copyBinds(entry.binds), true
}

func (s *TypeBindService) store(ctx context.Context, sourceID uint, binds map[int]int) {
	s.mu.Lock()
	s.memory[sourceID] = bindMapEntry{binds: binds, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	if s.cache == nil {
		return
	}
	encoded, err := json.Marshal(binds)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, typeBindKey(sourceID), string(encoded), s.ttl); err != nil {
		log.Printf("type bind: cache set for source %d failed: %v", sourceID, err)
	}
}

func (s *TypeBindService) loadBinds(ctx context.Context, sourceID uint) (map[int]int, error) {
	var rows []models.CollectTypeBind
	err := s.db.WithContext(ctx).
		Select("remote_type_id", "local_type_id").
		Where("source_id = ? AND local_type_id > 0", sourceID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	binds := make(map[int]int, len(rows))
	for _, r := range rows {
		binds[r.RemoteTypeID] = r.LocalTypeID
	}
	return binds, nil
}

// Invalidate forgets the cached map of one source.
func (s *TypeBindService) Invalidate(ctx context.Context, sourceID uint) {
	s.mu.Lock()
	delete(s.memory, sourceID)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Delete(ctx, typeBindKey(sourceID)); err != nil {
			log.Printf("type bind: cache delete for source %d failed: %v", sourceID, err)
		}
	}
}

// InvalidateAll forgets every cached map.
func (s *TypeBindService) InvalidateAll(ctx context.Context) {
	s.mu.Lock()
	s.memory = make(map[uint]bindMapEntry)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, typeBindKeyPrefix+"*"); err != nil {
			log.Printf("type bind: cache clear failed: %v", err)
		}
	}
}

// Preload warms the cache for every source that has bindings.
func (s *TypeBindService) Preload(ctx context.Context) error {
	var sourceIDs []uint
	err := s.db.WithContext(ctx).Model(&models.CollectTypeBind{}).
		Distinct("source_id").
		Pluck("source_id", &sourceIDs).Error
	if err != nil {
		return err
	}
	for _, id := range sourceIDs {
		binds, err := s.loadBinds(ctx, id)
		if err != nil {
			return err
		}
		s.store(ctx, id, binds)
	}
	log.Printf("type bind: preloaded %d source(s)", len(sourceIDs))
	return nil
}

// List returns a source's bindings with the local category name.
func (s *TypeBindService) List(ctx context.Context, sourceID uint) ([]models.CollectTypeBind, error) {
	binds := []models.CollectTypeBind{}
	err := s.db.WithContext(ctx).Table("bb_collect_type_bind AS b").
		Select("b.*, t.type_name AS local_type_name").
		Joins("LEFT JOIN bb_type t ON t.type_id = b.local_type_id").
		Where("b.source_id = ?", sourceID).
		Order("b.remote_type_id ASC").
		Scan(&binds).Error
	return binds, err
}

func (s *TypeBindService) Save(ctx context.Context, in TypeBindInput) error {
	if in.SourceID == 0 || in.RemoteTypeID <= 0 || in.LocalTypeID <= 0 {
		return ErrInvalidTypeBind
	}
	if err := upsertTypeBind(s.db.WithContext(ctx), in); err != nil {
		return err
	}
	s.Invalidate(ctx, in.SourceID)
	return nil
}

// SaveBatch upserts mappings of one source; a local id of zero or less removes the mapping.
func (s *TypeBindService) SaveBatch(ctx context.Context, sourceID uint, items []TypeBindInput) error {
	if sourceID == 0 {
		return ErrInvalidTypeBind
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range items {
			if item.RemoteTypeID <= 0 {
				continue
			}
			item.SourceID = sourceID
			if item.LocalTypeID <= 0 {
				err := tx.Where("source_id = ? AND remote_type_id = ?", sourceID, item.RemoteTypeID).
					Delete(&models.CollectTypeBind{}).Error
				if err != nil {
					return err
				}
				continue
			}
			if err := upsertTypeBind(tx, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Invalidate(ctx, sourceID)
	return nil
}

func (s *TypeBindService) Delete(ctx context.Context, sourceID uint, remoteTypeID int) error {
	err := s.db.WithContext(ctx).
		Where("source_id = ? AND remote_type_id = ?", sourceID, remoteTypeID).
		Delete(&models.CollectTypeBind{}).Error
	if err != nil {
		return err
	}
	s.Invalidate(ctx, sourceID)
	return nil
}

// FetchRemoteTypes lists the categories a source advertises at <base>?ac=list.
func (s *TypeBindService) FetchRemoteTypes(ctx context.Context, baseURL string) ([]RemoteType, error) {
	base := utils.NormalizeBaseURL(baseURL)
	if !utils.ValidateHTTPURL(base) {
		return nil, ErrRemoteTypesBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, ErrRemoteTypesBaseURL
	}
	q := u.Query()
	q.Set("ac", "list")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteTypesFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRemoteTypesFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, remoteTypesMaxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteTypesFetch, err)
	}
	var payload struct {
		Class []RemoteType `json:"class"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteTypesFetch, err)
	}

	out := make([]RemoteType, 0, len(payload.Class))
	for _, t := range payload.Class {
		if t.TypeID.Int() <= 0 || strings.TrimSpace(string(t.TypeName)) == "" {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func upsertTypeBind(tx *gorm.DB, in TypeBindInput) error {
	row := models.CollectTypeBind{
		SourceID:       in.SourceID,
		RemoteTypeID:   in.RemoteTypeID,
		RemoteTypeName: utils.Truncate(utils.SanitizeInput(in.RemoteTypeName), 100),
		LocalTypeID:    in.LocalTypeID,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_id"}, {Name: "remote_type_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"remote_type_name", "local_type_id", "updated_at"}),
	}).Create(&row).Error
}

func copyBinds(in map[int]int) map[int]int {
	out := make(map[int]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
