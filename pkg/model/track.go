package model

// TrackSector is a sector declaration as stored with the track data.
type TrackSector struct {
	SectorNum      int     `json:"sectorNum"      yaml:"sectorNum"`
	SectorStartPct float64 `json:"sectorStartPct" yaml:"sectorStartPct"`
}

//nolint:tagliatelle //different structs need to be mapped
type TrackInfo struct {
	ID        int     `json:"trackId"               yaml:"trackId"`
	Name      string  `json:"trackDisplayName"      yaml:"trackDisplayName"`
	ShortName string  `json:"trackDisplayShortName" yaml:"trackDisplayShortName"`
	Config    string  `json:"trackConfigName"       yaml:"trackConfigName"`
	Length    float64 `json:"trackLength"           yaml:"trackLength"`
	Pit       struct {
		Exit       float64 `json:"exit"       yaml:"exit"`
		Entry      float64 `json:"entry"      yaml:"entry"`
		LaneLength float64 `json:"laneLength" yaml:"laneLength"`
	} `json:"pit" yaml:"pit"`
	Sectors []TrackSector `json:"sectors" yaml:"sectors"`
}
