package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"unicode"

	"vodcms-collect-api/config"
	"vodcms-collect-api/models"

	"github.com/mozillazg/go-pinyin"
	"gorm.io/gorm"
)

// Result codes returned by the receive endpoints. Workers branch on these.
const (
	ReceiveCodeCreated        = 1
	ReceiveCodeUpdated        = 2
	ReceiveCodeKeywordBlocked = 1001
	ReceiveCodeTypeUnbound    = 1002
	ReceiveCodeNameRequired   = 2001
	ReceiveCodeTypeRequired   = 2002
	ReceiveCodePassError      = 3002
	ReceiveCodePassTooShort   = 3003

	interfacePassMinLen = 16
)

// ReceiveResult is the body returned for every ingest call.
type ReceiveResult struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	VodID uint   `json:"vod_id,omitempty"`
	ArtID uint   `json:"art_id,omitempty"`
}

func receiveReject(code int, format string, args ...interface{}) *ReceiveResult {
	return &ReceiveResult{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// resolvedCategory is the local category an ingested record lands in.
type resolvedCategory struct {
	TypeID   int
	TypePid  int
	TypeName string
}

type receiveBase struct {
	db           *gorm.DB
	settings     *SettingsService
	binds        *TypeBindService
	fallbackPass string
}

func newReceiveBase(db *gorm.DB, settings *SettingsService, binds *TypeBindService, fallbackPass string) receiveBase {
	if db == nil {
		db = config.DB
	}
	if settings == nil {
		settings = NewSettingsService(db)
	}
	if binds == nil {
		binds = NewTypeBindService(db, nil, 0)
	}
	return receiveBase{db: db, settings: settings, binds: binds, fallbackPass: strings.TrimSpace(fallbackPass)}
}

// checkPass compares the body secret with the configured one. A configured secret
// that is too short is refused even when it matches.
func (b *receiveBase) checkPass(ctx context.Context, pass string) (*ReceiveResult, error) {
	sys, err := b.settings.System(ctx)
	if err != nil {
		return nil, err
	}
	expected := strings.TrimSpace(sys.InterfacePass)
	if expected == "" {
		expected = b.fallbackPass
	}
	if expected != strings.TrimSpace(pass) {
		return receiveReject(ReceiveCodePassError, "pass error"), nil
	}
	if len(expected) < interfacePassMinLen {
		return receiveReject(ReceiveCodePassTooShort, "pass too short"), nil
	}
	return nil, nil
}

func matchKeyword(name string, keywords []string) string {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(name, kw) {
			return kw
		}
	}
	return ""
}

// resolveCategory maps the incoming type reference to a local category of the given model.
// A source with bindings only accepts bound remote ids; one without passes the id through.
func (b *receiveBase) resolveCategory(ctx context.Context, typeMid int, sourceID uint, rawTypeID, typeName string) (*resolvedCategory, *ReceiveResult, error) {
	rawTypeID = strings.TrimSpace(rawTypeID)
	typeName = strings.TrimSpace(typeName)
	if rawTypeID == "" && typeName == "" {
		return nil, receiveReject(ReceiveCodeTypeRequired, "require type"), nil
	}

	typeID := parseLooseInt(rawTypeID)
	if sourceID > 0 && typeID > 0 {
		binds, err := b.binds.BindMap(ctx, sourceID)
		if err != nil {
			return nil, nil, err
		}
		if local, ok := binds[typeID]; ok && local > 0 {
			typeID = local
		} else if len(binds) > 0 {
			return nil, receiveReject(ReceiveCodeTypeUnbound, "type %d not bound for source %d", typeID, sourceID), nil
		}
	}

	if typeID > 0 {
		cat, err := b.findCategory(ctx, "type_mid = ? AND type_id = ?", typeMid, typeID)
		if err != nil {
			return nil, nil, err
		}
		if cat != nil {
			if typeName == "" {
				typeName = cat.TypeName
			}
			return &resolvedCategory{TypeID: cat.TypeID, TypePid: cat.TypePid, TypeName: typeName}, nil, nil
		}
	}

	if typeName != "" {
		cat, err := b.findCategory(ctx, "type_mid = ? AND type_status = 1 AND type_name = ?", typeMid, typeName)
		if err != nil {
			return nil, nil, err
		}
		if cat != nil {
			return &resolvedCategory{TypeID: cat.TypeID, TypePid: cat.TypePid, TypeName: cat.TypeName}, nil, nil
		}
	}
	return nil, receiveReject(ReceiveCodeTypeRequired, "type not found"), nil
}

func (b *receiveBase) findCategory(ctx context.Context, query string, args ...interface{}) (*models.Category, error) {
	var cat models.Category
	err := b.db.WithContext(ctx).Where(query, args...).Take(&cat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cat, nil
}

// popularity is the seeded counters of a newly inserted record.
type popularity struct {
	Hits  int
	Up    int
	Down  int
	Score float64
}

func seedPopularity(cs CollectSettings) popularity {
	var p popularity
	if cs.RandomHits {
		p.Hits = randInt(cs.RandomHitsMin, cs.RandomHitsMax)
	}
	if cs.RandomUpDown {
		p.Up = randInt(cs.RandomUpMin, cs.RandomUpMax)
		p.Down = randInt(cs.RandomDownMin, cs.RandomDownMax)
	}
	if cs.RandomScore {
		p.Score = randScore(cs.RandomScoreMin, cs.RandomScoreMax)
	}
	return p
}

func randInt(min, max int) int {
	min = clampRange(min, 0, 2_000_000_000)
	max = clampRange(max, 0, 2_000_000_000)
	if max <= min {
		return min
	}
	return min + rand.IntN(max-min+1)
}

func randScore(min, max float64) float64 {
	lo := math.Max(0, math.Min(10, min))
	hi := math.Max(0, math.Min(10, max))
	if lo > hi {
		lo, hi = hi, lo
	}
	raw := lo + rand.Float64()*(hi-lo)
	return math.Round(raw*10) / 10
}

func clampRange(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var pinyinArgs = pinyin.NewArgs()

// romanize returns the toneless pinyin of name (other letters and digits lowercased)
// and its index letter, or "#" when it does not start with a latin letter.
func romanize(name string) (string, string) {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case unicode.Is(unicode.Han, r):
			if py := pinyin.SinglePinyin(r, pinyinArgs); len(py) > 0 {
				sb.WriteString(py[0])
			}
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			sb.WriteRune(unicode.ToLower(r))
		}
	}
	en := sb.String()
	letter := "#"
	if en != "" && en[0] >= 'a' && en[0] <= 'z' {
		letter = strings.ToUpper(en[:1])
	}
	return en, letter
}

func trimmed(v string) string {
	return strings.TrimSpace(v)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
