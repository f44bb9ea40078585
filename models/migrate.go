package models

// CollectModels lists every table the collection engine owns or reads.
func CollectModels() []interface{} {
	return []interface{}{
		&CollectSource{},
		&CollectJob{},
		&CollectJobSource{},
		&CollectRun{},
		&CollectTask{},
		&CollectRecord{},
		&CollectTypeBind{},
		&Category{},
		&Vod{},
		&VodPlaySource{},
		&VodEpisode{},
		&Player{},
		&Article{},
		&Setting{},
	}
}
