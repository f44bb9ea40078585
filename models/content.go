package models

// Category type_mid values.
const (
	CategoryModelVod     = 1
	CategoryModelArticle = 2
)

// Category is the local taxonomy shared by videos and articles.
type Category struct {
	TypeID     int    `json:"type_id" gorm:"column:type_id;primaryKey;autoIncrement"`
	TypeName   string `json:"type_name" gorm:"column:type_name;type:varchar(60);not null"`
	TypeMid    int    `json:"type_mid" gorm:"column:type_mid;not null;default:1"`
	TypePid    int    `json:"type_pid" gorm:"column:type_pid;not null;default:0"`
	TypeStatus int    `json:"type_status" gorm:"column:type_status;not null;default:1"`
}

func (Category) TableName() string { return "bb_type" }

// Vod is a locally published video entry.
type Vod struct {
	VodID       uint    `json:"vod_id" gorm:"column:vod_id;primaryKey;autoIncrement"`
	TypeID      int     `json:"type_id" gorm:"column:type_id;not null;index"`
	TypeID1     int     `json:"type_id_1" gorm:"column:type_id_1;not null;default:0"`
	VodName     string  `json:"vod_name" gorm:"column:vod_name;type:varchar(255);not null;index"`
	VodEn       string  `json:"vod_en" gorm:"column:vod_en;type:varchar(255);not null;default:''"`
	VodLetter   string  `json:"vod_letter" gorm:"column:vod_letter;type:char(1);not null;default:''"`
	VodClass    string  `json:"vod_class" gorm:"column:vod_class;type:varchar(255);not null;default:''"`
	VodPic      string  `json:"vod_pic" gorm:"column:vod_pic;type:varchar(1024);not null;default:''"`
	VodActor    string  `json:"vod_actor" gorm:"column:vod_actor;type:varchar(255);not null;default:''"`
	VodDirector string  `json:"vod_director" gorm:"column:vod_director;type:varchar(255);not null;default:''"`
	VodWriter   string  `json:"vod_writer" gorm:"column:vod_writer;type:varchar(100);not null;default:''"`
	VodRemarks  string  `json:"vod_remarks" gorm:"column:vod_remarks;type:varchar(100);not null;default:''"`
	VodPubdate  string  `json:"vod_pubdate" gorm:"column:vod_pubdate;type:varchar(100);not null;default:''"`
	VodArea     string  `json:"vod_area" gorm:"column:vod_area;type:varchar(20);not null;default:''"`
	VodLang     string  `json:"vod_lang" gorm:"column:vod_lang;type:varchar(10);not null;default:''"`
	VodYear     string  `json:"vod_year" gorm:"column:vod_year;type:varchar(10);not null;default:''"`
	VodDuration string  `json:"vod_duration" gorm:"column:vod_duration;type:varchar(10);not null;default:''"`
	VodContent  string  `json:"vod_content" gorm:"column:vod_content;type:mediumtext"`
	VodStatus   int     `json:"vod_status" gorm:"column:vod_status;not null;default:1"`
	VodHits     int     `json:"vod_hits" gorm:"column:vod_hits;not null;default:0"`
	VodUp       int     `json:"vod_up" gorm:"column:vod_up;not null;default:0"`
	VodDown     int     `json:"vod_down" gorm:"column:vod_down;not null;default:0"`
	VodScore    float64 `json:"vod_score" gorm:"column:vod_score;type:decimal(3,1);not null;default:0"`
	VodTime     int64   `json:"vod_time" gorm:"column:vod_time;not null;default:0"`
	VodTimeAdd  int64   `json:"vod_time_add" gorm:"column:vod_time_add;not null;default:0"`
}

func (Vod) TableName() string { return "bb_vod" }

// VodPlaySource is one player line of a video.
type VodPlaySource struct {
	ID         uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	VodID      uint   `json:"vod_id" gorm:"column:vod_id;not null;index"`
	PlayerID   uint   `json:"player_id" gorm:"column:player_id;not null;default:0"`
	PlayerName string `json:"player_name" gorm:"column:player_name;type:varchar(60);not null;default:''"`
	Sort       int    `json:"sort" gorm:"not null;default:0"`
}

func (VodPlaySource) TableName() string { return "bb_vod_source" }

// VodEpisode is one playable url inside a play source.
type VodEpisode struct {
	ID         uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	VodID      uint   `json:"vod_id" gorm:"column:vod_id;not null;index"`
	SourceID   uint   `json:"source_id" gorm:"column:source_id;not null;uniqueIndex:uk_vod_episode,priority:1"`
	EpisodeNum int    `json:"episode_num" gorm:"column:episode_num;not null;uniqueIndex:uk_vod_episode,priority:2"`
	Title      string `json:"title" gorm:"type:varchar(255);not null;default:''"`
	URL        string `json:"url" gorm:"column:url;type:varchar(1024);not null"`
	Sort       int    `json:"sort" gorm:"not null;default:0"`
}

func (VodEpisode) TableName() string { return "bb_vod_episode" }

// Player is a configured playback backend, matched by from_key.
type Player struct {
	ID      uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	FromKey string `json:"from_key" gorm:"column:from_key;type:varchar(60);not null;uniqueIndex"`
	Name    string `json:"name" gorm:"type:varchar(60);not null;default:''"`
	Status  int    `json:"status" gorm:"not null;default:1"`
}

func (Player) TableName() string { return "bb_player" }

// Article is a locally published article entry.
type Article struct {
	ArtID      uint    `json:"art_id" gorm:"column:art_id;primaryKey;autoIncrement"`
	TypeID     int     `json:"type_id" gorm:"column:type_id;not null;index"`
	TypeID1    int     `json:"type_id_1" gorm:"column:type_id_1;not null;default:0"`
	ArtName    string  `json:"art_name" gorm:"column:art_name;type:varchar(255);not null;index"`
	ArtSub     string  `json:"art_sub" gorm:"column:art_sub;type:varchar(255);not null;default:''"`
	ArtEn      string  `json:"art_en" gorm:"column:art_en;type:varchar(255);not null;default:''"`
	ArtLetter  string  `json:"art_letter" gorm:"column:art_letter;type:char(1);not null;default:''"`
	ArtClass   string  `json:"art_class" gorm:"column:art_class;type:varchar(255);not null;default:''"`
	ArtPic     string  `json:"art_pic" gorm:"column:art_pic;type:varchar(1024);not null;default:''"`
	ArtAuthor  string  `json:"art_author" gorm:"column:art_author;type:varchar(255);not null;default:''"`
	ArtFrom    string  `json:"art_from" gorm:"column:art_from;type:varchar(255);not null;default:''"`
	ArtTag     string  `json:"art_tag" gorm:"column:art_tag;type:varchar(100);not null;default:''"`
	ArtBlurb   string  `json:"art_blurb" gorm:"column:art_blurb;type:varchar(255);not null;default:''"`
	ArtRemarks string  `json:"art_remarks" gorm:"column:art_remarks;type:varchar(100);not null;default:''"`
	ArtContent string  `json:"art_content" gorm:"column:art_content;type:mediumtext"`
	ArtJumpURL string  `json:"art_jumpurl" gorm:"column:art_jumpurl;type:varchar(150);not null;default:''"`
	ArtLevel   int     `json:"art_level" gorm:"column:art_level;not null;default:0"`
	ArtStatus  int     `json:"art_status" gorm:"column:art_status;not null;default:1"`
	ArtHits    int     `json:"art_hits" gorm:"column:art_hits;not null;default:0"`
	ArtUp      int     `json:"art_up" gorm:"column:art_up;not null;default:0"`
	ArtDown    int     `json:"art_down" gorm:"column:art_down;not null;default:0"`
	ArtScore   float64 `json:"art_score" gorm:"column:art_score;type:decimal(3,1);not null;default:0"`
	ArtTime    int64   `json:"art_time" gorm:"column:art_time;not null;default:0"`
	ArtTimeAdd int64   `json:"art_time_add" gorm:"column:art_time_add;not null;default:0"`
}

func (Article) TableName() string { return "bb_article" }
