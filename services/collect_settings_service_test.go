package services

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var settingColumns = []string{"key", "value"}

func TestDecodeCollectSettingsOverlaysDefaults(t *testing.T) {
	cs, err := decodeCollectSettings([]byte(`{"filterKeywords":"a, b ,,c","randomHits":true,"playUpdateMode":"REPLACE"}`), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, cs.Keywords())
	assert.True(t, cs.RandomHits)
	assert.Equal(t, 1000, cs.RandomHitsMax)
	assert.Equal(t, PlayUpdateReplace, cs.PlayUpdateMode)
	assert.Equal(t, []DedupField{DedupName, DedupType}, cs.DedupFields)
}

func TestDecodeCollectSettingsUnknownFieldNames(t *testing.T) {
	data := []byte(`{"dedupFields":["Year","bogus"],"updateFields":["pic","everything"]}`)

	cs, err := decodeCollectSettings(data, true)
	require.NoError(t, err)
	assert.Equal(t, []DedupField{DedupYear}, cs.DedupFields)
	assert.Equal(t, []UpdateField{UpdatePic}, cs.UpdateFields)

	_, err = decodeCollectSettings(data, false)
	assert.ErrorIs(t, err, ErrUnknownSettingField)
}

func TestDecodeCollectSettingsNormalizesModeAndStatus(t *testing.T) {
	cs, err := decodeCollectSettings([]byte(`{"playUpdateMode":"sideways","defaultVodStatus":7,"updateFields":[]}`), false)
	require.NoError(t, err)
	assert.Equal(t, PlayUpdateMerge, cs.PlayUpdateMode)
	assert.Equal(t, 1, cs.DefaultVodStatus)
	assert.Empty(t, cs.UpdateFields)
	assert.False(t, cs.Updates(UpdatePlay))
}

func TestDedupsAlwaysIncludesName(t *testing.T) {
	cs := DefaultCollectSettings()
	cs.DedupFields = nil
	assert.True(t, cs.Dedups(DedupName))
	assert.False(t, cs.Dedups(DedupType))
}

func TestSettingsServiceCachesUntilInvalidated(t *testing.T) {
	db, state := newScriptedGormDB(t,
		expectQuery("SELECT \\* FROM `bb_setting` WHERE `key` IN \\(\\?,\\?\\)", settingColumns,
			[]driver.Value{"collect", []byte(`{"filterKeywords":"spam"}`)},
			[]driver.Value{"system", []byte(`{"interfacePass":"0123456789abcdef"}`)},
		),
		expectQuery("SELECT \\* FROM `bb_setting`", settingColumns),
	)
	svc := NewSettingsService(db)
	ctx := context.Background()

	cs, err := svc.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "spam", cs.FilterKeywords)

	sys, err := svc.System(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", sys.InterfacePass)

	svc.Invalidate()
	cs, err = svc.Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, cs.FilterKeywords)
	require.NoError(t, state.verifyComplete())
}

func TestSettingsServiceFallsBackOnCorruptRow(t *testing.T) {
	db, _ := newScriptedGormDB(t,
		expectQuery("FROM `bb_setting`", settingColumns,
			[]driver.Value{"collect", []byte(`{"randomHits":"yes"}`)}),
	)

	cs, err := NewSettingsService(db).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultCollectSettings(), cs)
}

func TestSaveCollectRejectsUnknownFieldsWithoutWriting(t *testing.T) {
	db, state := newScriptedGormDB(t)

	_, err := NewSettingsService(db).SaveCollect(context.Background(), []byte(`{"updateFields":["nope"]}`))
	assert.ErrorIs(t, err, ErrUnknownSettingField)
	require.NoError(t, state.verifyComplete())
}

func TestSaveCollectUpsertsAndInvalidates(t *testing.T) {
	db, state := newScriptedGormDB(t,
		expectQuery("FROM `bb_setting`", settingColumns),
		expectExec("INSERT INTO `bb_setting` .* ON DUPLICATE KEY UPDATE", 1),
		expectQuery("FROM `bb_setting`", settingColumns,
			[]driver.Value{"collect", []byte(`{"enableSynonyms":true}`)}),
	)
	svc := NewSettingsService(db)
	ctx := context.Background()

	_, err := svc.Collect(ctx)
	require.NoError(t, err)

	saved, err := svc.SaveCollect(ctx, []byte(`{"enableSynonyms":true}`))
	require.NoError(t, err)
	assert.True(t, saved.EnableSynonyms)

	cs, err := svc.Collect(ctx)
	require.NoError(t, err)
	assert.True(t, cs.EnableSynonyms)
	require.NoError(t, state.verifyComplete())
}
