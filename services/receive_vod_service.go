package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"vodcms-collect-api/models"
	"vodcms-collect-api/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VodPayload is one harvested video. Workers post it as JSON or as a form carrying
// the catalog's raw fields.
type VodPayload struct {
	Pass     string     `json:"pass" form:"pass"`
	SourceID FlexInt    `json:"source_id" form:"source_id"`
	TaskID   FlexInt    `json:"task_id" form:"task_id"`
	RemoteID FlexString `json:"vod_id" form:"vod_id"`
	TypeID   FlexString `json:"type_id" form:"type_id"`
	TypeName string     `json:"type_name" form:"type_name"`

	VodName     string     `json:"vod_name" form:"vod_name"`
	VodPic      string     `json:"vod_pic" form:"vod_pic"`
	VodRemarks  string     `json:"vod_remarks" form:"vod_remarks"`
	VodYear     FlexString `json:"vod_year" form:"vod_year"`
	VodArea     string     `json:"vod_area" form:"vod_area"`
	VodLang     string     `json:"vod_lang" form:"vod_lang"`
	VodActor    string     `json:"vod_actor" form:"vod_actor"`
	VodDirector string     `json:"vod_director" form:"vod_director"`
	VodWriter   string     `json:"vod_writer" form:"vod_writer"`
	VodPubdate  string     `json:"vod_pubdate" form:"vod_pubdate"`
	VodDuration string     `json:"vod_duration" form:"vod_duration"`
	VodContent  string     `json:"vod_content" form:"vod_content"`

	VodPlayFrom string      `json:"vod_play_from" form:"vod_play_from"`
	VodPlayURL  string      `json:"vod_play_url" form:"vod_play_url"`
	PlayList    []PlayGroup `json:"playList" form:"-"`
}

// PlayGroup is one player line with its episodes.
type PlayGroup struct {
	PlayerID      FlexInt       `json:"playerId"`
	PlayerIDSnake FlexInt       `json:"player_id"`
	PlayerName    string        `json:"playerName"`
	PlayerSnake   string        `json:"player_name"`
	Sort          FlexInt       `json:"sort"`
	Episodes      []PlayEpisode `json:"episodes"`
}

// PlayEpisode is one playable url.
type PlayEpisode struct {
	Num        FlexInt `json:"num"`
	EpisodeNum FlexInt `json:"episode_num"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Sort       FlexInt `json:"sort"`
}

func (g PlayGroup) playerID() uint {
	if g.PlayerID > 0 {
		return uint(g.PlayerID)
	}
	if g.PlayerIDSnake > 0 {
		return uint(g.PlayerIDSnake)
	}
	return 0
}

func (g PlayGroup) playerName() string {
	if name := trimmed(g.PlayerName); name != "" {
		return name
	}
	return trimmed(g.PlayerSnake)
}

// BuildPlayListFromLegacy converts "from1$$$from2" and "t1$u1#t2$u2$$$..." into play groups.
// Groups without a player or usable episode are dropped.
func BuildPlayListFromLegacy(playFrom, playURL string) []PlayGroup {
	froms := splitNonEmpty(strings.TrimSpace(playFrom), "$$$")
	urls := splitNonEmpty(strings.TrimSpace(playURL), "$$$")

	var groups []PlayGroup
	for i, from := range froms {
		name := strings.TrimSpace(from)
		if name == "" || i >= len(urls) {
			continue
		}
		urlStr := strings.TrimSpace(urls[i])
		if urlStr == "" {
			continue
		}

		var episodes []PlayEpisode
		for idx, part := range strings.Split(urlStr, "#") {
			title, link, found := strings.Cut(part, "$")
			if !found {
				title, link = "", part
			}
			link = strings.TrimSpace(link)
			if link == "" {
				continue
			}
			title = strings.TrimSpace(title)
			if title == "" {
				title = "第" + itoa(idx+1) + "集"
			}
			episodes = append(episodes, PlayEpisode{
				EpisodeNum: FlexInt(idx + 1),
				Title:      title,
				URL:        link,
				Sort:       FlexInt(idx),
			})
		}
		if len(episodes) > 0 {
			groups = append(groups, PlayGroup{PlayerSnake: name, Episodes: episodes})
		}
	}
	return groups
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if strings.TrimSpace(part) != "" {
			out = append(out, part)
		}
	}
	return out
}

// vodFields is the normalized record after rewriting.
type vodFields struct {
	name, pic, remarks, year, area, lang string
	actor, director, writer, pubdate     string
	content, duration                    string
}

type ReceiveVodService struct {
	receiveBase
}

func NewReceiveVodService(db *gorm.DB, settings *SettingsService, binds *TypeBindService, fallbackPass string) *ReceiveVodService {
	return &ReceiveVodService{receiveBase: newReceiveBase(db, settings, binds, fallbackPass)}
}

// Receive merges one harvested video into the local catalog.
func (s *ReceiveVodService) Receive(ctx context.Context, p *VodPayload) (*ReceiveResult, error) {
	if p == nil {
		return nil, errors.New("payload is nil")
	}
	if len(p.PlayList) == 0 && p.VodPlayFrom != "" && p.VodPlayURL != "" {
		p.PlayList = BuildPlayListFromLegacy(p.VodPlayFrom, p.VodPlayURL)
	}

	if res, err := s.checkPass(ctx, p.Pass); res != nil || err != nil {
		return res, err
	}

	name := utils.SanitizeInput(p.VodName)
	if name == "" {
		return receiveReject(ReceiveCodeNameRequired, "require name"), nil
	}

	cs, err := s.settings.Collect(ctx)
	if err != nil {
		return nil, err
	}
	if kw := matchKeyword(name, cs.Keywords()); kw != "" {
		return receiveReject(ReceiveCodeKeywordBlocked, "blocked by keyword: %s", kw), nil
	}

	sourceID := uint(clampMin(p.SourceID.Int(), 0))
	cat, res, err := s.resolveCategory(ctx, models.CategoryModelVod, sourceID, p.TypeID.String(), p.TypeName)
	if res != nil || err != nil {
		return res, err
	}

	rules := newSynonymRules(cs)
	f := vodFields{
		name:     ApplySynonyms(name, rules.name),
		pic:      trimmed(p.VodPic),
		remarks:  trimmed(p.VodRemarks),
		year:     p.VodYear.String(),
		area:     ApplySynonyms(trimmed(p.VodArea), rules.area),
		lang:     ApplySynonyms(trimmed(p.VodLang), rules.lang),
		actor:    trimmed(p.VodActor),
		director: trimmed(p.VodDirector),
		writer:   trimmed(p.VodWriter),
		pubdate:  trimmed(p.VodPubdate),
		duration: trimmed(p.VodDuration),
		content:  ApplySynonyms(trimmed(p.VodContent), rules.content),
	}
	if f.name != name {
		log.Printf("receive vod: synonyms rewrote name %q => %q", name, f.name)
	}

	players, err := s.enabledPlayers(ctx)
	if err != nil {
		return nil, err
	}
	groups := normalizePlayGroups(p.PlayList, rules.playFrom, players)

	var result *ReceiveResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findDuplicateVod(tx, cs, cat, f)
		if err != nil {
			return err
		}

		now := time.Now().Unix()
		if existing == nil {
			vodID, err := s.insertVod(tx, cs, cat, f, now)
			if err != nil {
				return err
			}
			if err := savePlayGroups(tx, vodID, groups, cs.PlayUpdateMode); err != nil {
				return err
			}
			result = &ReceiveResult{Code: ReceiveCodeCreated, Msg: "add ok", VodID: vodID}
		} else {
			if err := s.updateVod(tx, cs, existing.VodID, f, groups, now); err != nil {
				return err
			}
			result = &ReceiveResult{Code: ReceiveCodeUpdated, Msg: "update ok", VodID: existing.VodID}
		}

		return recordCollectedItem(tx, RecordInput{
			TaskID:   uint(clampMin(p.TaskID.Int(), 0)),
			SourceID: sourceID,
			RemoteID: p.RemoteID.String(),
			LocalID:  result.VodID,
			IsNew:    result.Code == ReceiveCodeCreated,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ReceiveVodService) enabledPlayers(ctx context.Context) (map[string]uint, error) {
	var players []models.Player
	if err := s.db.WithContext(ctx).Where("status = ?", 1).Find(&players).Error; err != nil {
		return nil, err
	}
	out := make(map[string]uint, len(players))
	for _, pl := range players {
		if key := strings.TrimSpace(pl.FromKey); key != "" {
			out[key] = pl.ID
		}
	}
	return out, nil
}

// normalizedGroup is a play group with its player resolved and episodes numbered.
type normalizedGroup struct {
	playerID   uint
	playerName string
	sort       int
	episodes   []models.VodEpisode
}

// normalizePlayGroups resolves players by from_key. A group naming an unknown or
// disabled player is kept under player 0.
func normalizePlayGroups(groups []PlayGroup, playFromRules []SynonymPair, players map[string]uint) []normalizedGroup {
	out := make([]normalizedGroup, 0, len(groups))
	for _, g := range groups {
		name := ApplySynonyms(g.playerName(), playFromRules)
		id := g.playerID()
		if id == 0 && name == "" {
			continue
		}
		if id == 0 {
			id = players[name]
		}

		ng := normalizedGroup{playerID: id, playerName: utils.Truncate(name, 60), sort: g.Sort.Int()}
		for idx, ep := range g.Episodes {
			link := trimmed(ep.URL)
			if link == "" {
				continue
			}
			num := ep.Num.Int()
			if num <= 0 {
				num = ep.EpisodeNum.Int()
			}
			if num <= 0 {
				num = idx + 1
			}
			sort := ep.Sort.Int()
			if ep.Sort == 0 {
				sort = idx
			}
			ng.episodes = append(ng.episodes, models.VodEpisode{
				EpisodeNum: num,
				Title:      utils.Truncate(trimmed(ep.Title), 255),
				URL:        utils.Truncate(link, 1024),
				Sort:       sort,
			})
		}
		out = append(out, ng)
	}
	return out
}

// findDuplicateVod matches on name plus every configured dedup field the record supplies.
func findDuplicateVod(tx *gorm.DB, cs CollectSettings, cat *resolvedCategory, f vodFields) (*models.Vod, error) {
	q := tx.Model(&models.Vod{}).Select("vod_id").Where("vod_name = ?", f.name)
	if cs.Dedups(DedupType) {
		q = q.Where("type_id = ?", cat.TypeID)
	}
	optional := []struct {
		field  DedupField
		column string
		value  string
	}{
		{DedupYear, "vod_year", f.year},
		{DedupArea, "vod_area", f.area},
		{DedupLang, "vod_lang", f.lang},
		{DedupActor, "vod_actor", f.actor},
		{DedupDirector, "vod_director", f.director},
	}
	for _, o := range optional {
		if o.value != "" && cs.Dedups(o.field) {
			q = q.Where(o.column+" = ?", o.value)
		}
	}

	var vod models.Vod
	err := q.Order("vod_id ASC").Take(&vod).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vod, nil
}

func (s *ReceiveVodService) insertVod(tx *gorm.DB, cs CollectSettings, cat *resolvedCategory, f vodFields, now int64) (uint, error) {
	seed := seedPopularity(cs)
	en, letter := romanize(f.name)
	vod := models.Vod{
		TypeID:      cat.TypeID,
		TypeID1:     cat.TypePid,
		VodName:     utils.Truncate(f.name, 255),
		VodEn:       utils.Truncate(en, 255),
		VodLetter:   letter,
		VodClass:    utils.Truncate(cat.TypeName, 255),
		VodPic:      utils.Truncate(f.pic, 1024),
		VodActor:    utils.Truncate(f.actor, 255),
		VodDirector: utils.Truncate(f.director, 255),
		VodWriter:   utils.Truncate(f.writer, 100),
		VodRemarks:  utils.Truncate(f.remarks, 100),
		VodPubdate:  utils.Truncate(f.pubdate, 100),
		VodArea:     utils.Truncate(f.area, 20),
		VodLang:     utils.Truncate(f.lang, 10),
		VodYear:     utils.Truncate(f.year, 10),
		VodDuration: utils.Truncate(f.duration, 10),
		VodContent:  f.content,
		VodStatus:   cs.DefaultVodStatus,
		VodHits:     seed.Hits,
		VodUp:       seed.Up,
		VodDown:     seed.Down,
		VodScore:    seed.Score,
		VodTime:     now,
		VodTimeAdd:  now,
	}
	if err := tx.Create(&vod).Error; err != nil {
		return 0, err
	}
	return vod.VodID, nil
}

func (s *ReceiveVodService) updateVod(tx *gorm.DB, cs CollectSettings, vodID uint, f vodFields, groups []normalizedGroup, now int64) error {
	updates := map[string]interface{}{"vod_time": now}
	candidates := []struct {
		field  UpdateField
		column string
		value  string
	}{
		{UpdatePic, "vod_pic", f.pic},
		{UpdateRemarks, "vod_remarks", f.remarks},
		{UpdateArea, "vod_area", f.area},
		{UpdateLang, "vod_lang", f.lang},
		{UpdateYear, "vod_year", f.year},
		{UpdateActor, "vod_actor", f.actor},
		{UpdateDirector, "vod_director", f.director},
		{UpdateContent, "vod_content", f.content},
		{UpdateWriter, "vod_writer", f.writer},
		{UpdatePubdate, "vod_pubdate", f.pubdate},
		{UpdateDuration, "vod_duration", f.duration},
	}
	for _, c := range candidates {
		if c.value != "" && cs.Updates(c.field) {
			updates[c.column] = c.value
		}
	}
	if err := tx.Model(&models.Vod{}).Where("vod_id = ?", vodID).Updates(updates).Error; err != nil {
		return err
	}

	if !cs.Updates(UpdatePlay) {
		return nil
	}
	if cs.PlayUpdateMode == PlayUpdateReplace {
		if err := tx.Where("vod_id = ?", vodID).Delete(&models.VodEpisode{}).Error; err != nil {
			return err
		}
		if err := tx.Where("vod_id = ?", vodID).Delete(&models.VodPlaySource{}).Error; err != nil {
			return err
		}
	}
	return savePlayGroups(tx, vodID, groups, cs.PlayUpdateMode)
}

// savePlayGroups attaches play sources and episodes. Merge upserts episodes on
// (source, episode number); replace rewrites the source's episodes.
func savePlayGroups(tx *gorm.DB, vodID uint, groups []normalizedGroup, mode PlayUpdateMode) error {
	for _, g := range groups {
		src, err := findOrCreatePlaySource(tx, vodID, g)
		if err != nil {
			return err
		}
		if mode == PlayUpdateReplace {
			err := tx.Where("vod_id = ? AND source_id = ?", vodID, src.ID).Delete(&models.VodEpisode{}).Error
			if err != nil {
				return err
			}
		}
		if len(g.episodes) == 0 {
			continue
		}
		episodes := make([]models.VodEpisode, len(g.episodes))
		for i, ep := range g.episodes {
			ep.VodID = vodID
			ep.SourceID = src.ID
			episodes[i] = ep
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_id"}, {Name: "episode_num"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "url", "sort"}),
		}).Create(&episodes).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func findOrCreatePlaySource(tx *gorm.DB, vodID uint, g normalizedGroup) (*models.VodPlaySource, error) {
	q := tx.Where("vod_id = ? AND player_id = ?", vodID, g.playerID)
	if g.playerID == 0 {
		q = q.Where("player_name = ?", g.playerName)
	}
	var src models.VodPlaySource
	err := q.Order("id ASC").Take(&src).Error
	if err == nil {
		return &src, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	src = models.VodPlaySource{VodID: vodID, PlayerID: g.playerID, PlayerName: g.playerName, Sort: g.sort}
	if err := tx.Create(&src).Error; err != nil {
		return nil, err
	}
	return &src, nil
}
