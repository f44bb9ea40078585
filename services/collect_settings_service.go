package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"vodcms-collect-api/config"
	"vodcms-collect-api/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DedupField names a vod column that may take part in duplicate matching.
type DedupField string

const (
	DedupName     DedupField = "name"
	DedupType     DedupField = "type"
	DedupYear     DedupField = "year"
	DedupArea     DedupField = "area"
	DedupLang     DedupField = "lang"
	DedupActor    DedupField = "actor"
	DedupDirector DedupField = "director"
)

var dedupFields = map[DedupField]struct{}{
	DedupName: {}, DedupType: {}, DedupYear: {}, DedupArea: {}, DedupLang: {}, DedupActor: {}, DedupDirector: {},
}

// UpdateField names a field that an existing record may be refreshed with.
type UpdateField string

const (
	UpdatePic      UpdateField = "pic"
	UpdateContent  UpdateField = "content"
	UpdateRemarks  UpdateField = "remarks"
	UpdateYear     UpdateField = "year"
	UpdateArea     UpdateField = "area"
	UpdateLang     UpdateField = "lang"
	UpdateActor    UpdateField = "actor"
	UpdateDirector UpdateField = "director"
	UpdateWriter   UpdateField = "writer"
	UpdatePubdate  UpdateField = "pubdate"
	UpdateDuration UpdateField = "duration"
	UpdatePlay     UpdateField = "play"
)

var updateFields = map[UpdateField]struct{}{
	UpdatePic: {}, UpdateContent: {}, UpdateRemarks: {}, UpdateYear: {}, UpdateArea: {}, UpdateLang: {},
	UpdateActor: {}, UpdateDirector: {}, UpdateWriter: {}, UpdatePubdate: {}, UpdateDuration: {}, UpdatePlay: {},
}

// PlayUpdateMode selects how episodes of an existing vod are refreshed.
type PlayUpdateMode string

const (
	PlayUpdateMerge   PlayUpdateMode = "merge"
	PlayUpdateReplace PlayUpdateMode = "replace"
)

var ErrUnknownSettingField = errors.New("unknown field name")

// ParseDedupField rejects names outside the closed set.
func ParseDedupField(name string) (DedupField, error) {
	f := DedupField(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := dedupFields[f]; !ok {
		return "", fmt.Errorf("%w: dedup %q", ErrUnknownSettingField, name)
	}
	return f, nil
}

// ParseUpdateField rejects names outside the closed set.
func ParseUpdateField(name string) (UpdateField, error) {
	f := UpdateField(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := updateFields[f]; !ok {
		return "", fmt.Errorf("%w: update %q", ErrUnknownSettingField, name)
	}
	return f, nil
}

// CollectSettings drives the ingestion merge engine.
type CollectSettings struct {
	FilterKeywords   string `json:"filterKeywords"`
	DefaultVodStatus int    `json:"defaultVodStatus"`

	RandomHits    bool `json:"randomHits"`
	RandomHitsMin int  `json:"randomHitsMin"`
	RandomHitsMax int  `json:"randomHitsMax"`

	RandomUpDown  bool `json:"randomUpDown"`
	RandomUpMin   int  `json:"randomUpMin"`
	RandomUpMax   int  `json:"randomUpMax"`
	RandomDownMin int  `json:"randomDownMin"`
	RandomDownMax int  `json:"randomDownMax"`

	RandomScore    bool    `json:"randomScore"`
	RandomScoreMin float64 `json:"randomScoreMin"`
	RandomScoreMax float64 `json:"randomScoreMax"`

	EnableSynonyms       bool   `json:"enableSynonyms"`
	NameSynonymsText     string `json:"nameSynonymsText"`
	ContentSynonymsText  string `json:"contentSynonymsText"`
	PlayFromSynonymsText string `json:"playFromSynonymsText"`
	AreaSynonymsText     string `json:"areaSynonymsText"`
	LangSynonymsText     string `json:"langSynonymsText"`

	DedupFields    []DedupField   `json:"dedupFields"`
	UpdateFields   []UpdateField  `json:"updateFields"`
	PlayUpdateMode PlayUpdateMode `json:"playUpdateMode"`
}

// DefaultCollectSettings mirrors what a fresh install starts with.
func DefaultCollectSettings() CollectSettings {
	return CollectSettings{
		DefaultVodStatus: 1,
		RandomHitsMin:    1,
		RandomHitsMax:    1000,
		RandomUpMin:      1,
		RandomUpMax:      1000,
		RandomDownMin:    1,
		RandomDownMax:    1000,
		RandomScoreMin:   6.0,
		RandomScoreMax:   9.9,
		DedupFields:      []DedupField{DedupName, DedupType},
		UpdateFields:     []UpdateField{UpdatePlay, UpdateRemarks, UpdatePic},
		PlayUpdateMode:   PlayUpdateMerge,
	}
}

// Keywords splits the comma separated block list.
func (c CollectSettings) Keywords() []string {
	var out []string
	for _, kw := range strings.Split(c.FilterKeywords, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func (c CollectSettings) Dedups(f DedupField) bool {
	if f == DedupName {
		return true
	}
	for _, v := range c.DedupFields {
		if v == f {
			return true
		}
	}
	return false
}

func (c CollectSettings) Updates(f UpdateField) bool {
	for _, v := range c.UpdateFields {
		if v == f {
			return true
		}
	}
	return false
}

// rawCollectSettings is the stored shape, where field lists are free-form strings.
type rawCollectSettings struct {
	CollectSettings
	DedupFields    *[]string `json:"dedupFields"`
	UpdateFields   *[]string `json:"updateFields"`
	PlayUpdateMode string    `json:"playUpdateMode"`
}

// decodeCollectSettings overlays stored JSON on the defaults. Unknown field names are
// dropped with a log line when lenient, and rejected otherwise.
func decodeCollectSettings(data []byte, lenient bool) (CollectSettings, error) {
	out := DefaultCollectSettings()
	if len(data) == 0 {
		return out, nil
	}
	raw := rawCollectSettings{CollectSettings: out}
	if err := json.Unmarshal(data, &raw); err != nil {
		return out, err
	}
	out = raw.CollectSettings

	if raw.DedupFields != nil {
		out.DedupFields = []DedupField{}
		for _, name := range *raw.DedupFields {
			f, err := ParseDedupField(name)
			if err != nil {
				if !lenient {
					return out, err
				}
				log.Printf("collect settings: dropping %v", err)
				continue
			}
			out.DedupFields = append(out.DedupFields, f)
		}
	}
	if raw.UpdateFields != nil {
		out.UpdateFields = []UpdateField{}
		for _, name := range *raw.UpdateFields {
			f, err := ParseUpdateField(name)
			if err != nil {
				if !lenient {
					return out, err
				}
				log.Printf("collect settings: dropping %v", err)
				continue
			}
			out.UpdateFields = append(out.UpdateFields, f)
		}
	}

	out.PlayUpdateMode = PlayUpdateMerge
	if PlayUpdateMode(strings.ToLower(strings.TrimSpace(raw.PlayUpdateMode))) == PlayUpdateReplace {
		out.PlayUpdateMode = PlayUpdateReplace
	}
	if out.DefaultVodStatus != 0 {
		out.DefaultVodStatus = 1
	}
	return out, nil
}

// SystemSettings holds the parts of the system setting the engine reads.
type SystemSettings struct {
	InterfacePass string `json:"interfacePass"`
}

type settingsCacheEntry struct {
	collect   CollectSettings
	system    SystemSettings
	fetchedAt time.Time
}

// SettingsService reads and writes the collect and system settings rows, caching
// them briefly since every ingested record consults them.
type SettingsService struct {
	db  *gorm.DB
	ttl time.Duration

	mu    sync.RWMutex
	cache *settingsCacheEntry
}

func NewSettingsService(db *gorm.DB) *SettingsService {
	if db == nil {
		db = config.DB
	}
	return &SettingsService{db: db, ttl: 30 * time.Second}
}

func (s *SettingsService) load(ctx context.Context, force bool) (*settingsCacheEntry, error) {
	s.mu.RLock()
	cached := s.cache
	s.mu.RUnlock()

	if cached != nil && !force && time.Since(cached.fetchedAt) < s.ttl {
		return cached, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache != nil && !force && time.Since(s.cache.fetchedAt) < s.ttl {
		return s.cache, nil
	}

	var rows []models.Setting
	err := s.db.WithContext(ctx).
		Where("`key` IN ?", []string{models.SettingKeyCollect, models.SettingKeySystem}).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	entry := &settingsCacheEntry{collect: DefaultCollectSettings(), fetchedAt: time.Now()}
	for _, row := range rows {
		switch row.Key {
		case models.SettingKeyCollect:
			cs, err := decodeCollectSettings(row.Value, true)
			if err != nil {
				log.Printf("collect settings: invalid stored value, using defaults: %v", err)
				continue
			}
			entry.collect = cs
		case models.SettingKeySystem:
			if len(row.Value) == 0 {
				continue
			}
			if err := json.Unmarshal(row.Value, &entry.system); err != nil {
				log.Printf("system settings: invalid stored value: %v", err)
			}
		}
	}
	s.cache = entry
	return entry, nil
}

// Invalidate drops the cached settings.
func (s *SettingsService) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
}

func (s *SettingsService) Collect(ctx context.Context) (CollectSettings, error) {
	entry, err := s.load(ctx, false)
	if err != nil {
		return DefaultCollectSettings(), err
	}
	return entry.collect, nil
}

func (s *SettingsService) System(ctx context.Context) (SystemSettings, error) {
	entry, err := s.load(ctx, false)
	if err != nil {
		return SystemSettings{}, err
	}
	return entry.system, nil
}

// SaveCollect validates raw JSON against the closed field sets and stores it.
func (s *SettingsService) SaveCollect(ctx context.Context, data []byte) (CollectSettings, error) {
	cs, err := decodeCollectSettings(data, false)
	if err != nil {
		return cs, err
	}
	encoded, err := json.Marshal(cs)
	if err != nil {
		return cs, err
	}
	row := models.Setting{Key: models.SettingKeyCollect, Value: datatypes.JSON(encoded)}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return cs, err
	}
	s.Invalidate()
	return cs, nil
}
