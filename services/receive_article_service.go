package services

import (
	"context"
	"errors"
	"time"

	"vodcms-collect-api/models"
	"vodcms-collect-api/utils"

	"gorm.io/gorm"
)

const articleBlurbLen = 200

// ArticlePayload is one harvested article.
type ArticlePayload struct {
	Pass     string     `json:"pass" form:"pass"`
	SourceID FlexInt    `json:"source_id" form:"source_id"`
	TaskID   FlexInt    `json:"task_id" form:"task_id"`
	RemoteID FlexString `json:"art_id" form:"art_id"`
	TypeID   FlexString `json:"type_id" form:"type_id"`
	TypeName string     `json:"type_name" form:"type_name"`

	ArtName    string `json:"art_name" form:"art_name"`
	ArtSub     string `json:"art_sub" form:"art_sub"`
	ArtPic     string `json:"art_pic" form:"art_pic"`
	ArtAuthor  string `json:"art_author" form:"art_author"`
	ArtFrom    string `json:"art_from" form:"art_from"`
	ArtTag     string `json:"art_tag" form:"art_tag"`
	ArtBlurb   string `json:"art_blurb" form:"art_blurb"`
	ArtRemarks string `json:"art_remarks" form:"art_remarks"`
	ArtContent string `json:"art_content" form:"art_content"`
}

type ReceiveArticleService struct {
	receiveBase
}

func NewReceiveArticleService(db *gorm.DB, settings *SettingsService, binds *TypeBindService, fallbackPass string) *ReceiveArticleService {
	return &ReceiveArticleService{receiveBase: newReceiveBase(db, settings, binds, fallbackPass)}
}

// Receive merges one harvested article. Duplicates match on name, and on category
// when type dedup is configured; an existing article only has pic, content and
// remarks refreshed.
func (s *ReceiveArticleService) Receive(ctx context.Context, p *ArticlePayload) (*ReceiveResult, error) {
	if p == nil {
		return nil, errors.New("payload is nil")
	}
	if res, err := s.checkPass(ctx, p.Pass); res != nil || err != nil {
		return res, err
	}

	cs, err := s.settings.Collect(ctx)
	if err != nil {
		return nil, err
	}
	rules := newSynonymRules(cs)

	name := ApplySynonyms(utils.SanitizeInput(p.ArtName), rules.name)
	if name == "" {
		return receiveReject(ReceiveCodeNameRequired, "require name"), nil
	}
	if kw := matchKeyword(name, cs.Keywords()); kw != "" {
		return receiveReject(ReceiveCodeKeywordBlocked, "blocked by keyword: %s", kw), nil
	}

	sourceID := uint(clampMin(p.SourceID.Int(), 0))
	cat, res, err := s.resolveCategory(ctx, models.CategoryModelArticle, sourceID, p.TypeID.String(), p.TypeName)
	if res != nil || err != nil {
		return res, err
	}

	content := ApplySynonyms(trimmed(p.ArtContent), rules.content)
	blurb := trimmed(p.ArtBlurb)
	if blurb == "" {
		blurb = utils.Truncate(utils.StripHTML(content), articleBlurbLen)
	}

	var result *ReceiveResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.Article{}).Select("art_id").Where("art_name = ?", name)
		if cs.Dedups(DedupType) {
			q = q.Where("type_id = ?", cat.TypeID)
		}
		var existing models.Article
		err := q.Order("art_id ASC").Take(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().Unix()
		if err == nil {
			updates := map[string]interface{}{"art_time": now}
			if pic := trimmed(p.ArtPic); pic != "" && cs.Updates(UpdatePic) {
				updates["art_pic"] = utils.Truncate(pic, 1024)
			}
			if content != "" && cs.Updates(UpdateContent) {
				updates["art_content"] = content
				updates["art_blurb"] = utils.Truncate(blurb, 255)
			}
			if remarks := trimmed(p.ArtRemarks); remarks != "" && cs.Updates(UpdateRemarks) {
				updates["art_remarks"] = utils.Truncate(remarks, 100)
			}
			if err := tx.Model(&models.Article{}).Where("art_id = ?", existing.ArtID).Updates(updates).Error; err != nil {
				return err
			}
			result = &ReceiveResult{Code: ReceiveCodeUpdated, Msg: "update ok", ArtID: existing.ArtID}
		} else {
			seed := seedPopularity(cs)
			en, letter := romanize(name)
			art := models.Article{
				TypeID:     cat.TypeID,
				TypeID1:    cat.TypePid,
				ArtName:    utils.Truncate(name, 255),
				ArtSub:     utils.Truncate(trimmed(p.ArtSub), 255),
				ArtEn:      utils.Truncate(en, 255),
				ArtLetter:  letter,
				ArtClass:   utils.Truncate(cat.TypeName, 255),
				ArtPic:     utils.Truncate(trimmed(p.ArtPic), 1024),
				ArtAuthor:  utils.Truncate(trimmed(p.ArtAuthor), 255),
				ArtFrom:    utils.Truncate(trimmed(p.ArtFrom), 255),
				ArtTag:     utils.Truncate(trimmed(p.ArtTag), 100),
				ArtBlurb:   utils.Truncate(blurb, 255),
				ArtRemarks: utils.Truncate(trimmed(p.ArtRemarks), 100),
				ArtContent: content,
				ArtStatus:  cs.DefaultVodStatus,
				ArtHits:    seed.Hits,
				ArtUp:      seed.Up,
				ArtDown:    seed.Down,
				ArtScore:   seed.Score,
				ArtTime:    now,
				ArtTimeAdd: now,
			}
			if err := tx.Create(&art).Error; err != nil {
				return err
			}
			result = &ReceiveResult{Code: ReceiveCodeCreated, Msg: "add ok", ArtID: art.ArtID}
		}

		return recordCollectedItem(tx, RecordInput{
			TaskID:   uint(clampMin(p.TaskID.Int(), 0)),
			SourceID: sourceID,
			RemoteID: p.RemoteID.String(),
			LocalID:  result.ArtID,
			IsNew:    result.Code == ReceiveCodeCreated,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
