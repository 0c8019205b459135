package mcp

// SearchInput defines the input schema for the search_keyframes tool.
type SearchInput struct {
	Text       string            `json:"text,omitempty" jsonschema:"free-text description of the scene"`
	Grid       map[string]string `json:"grid,omitempty" jsonschema:"object positions: grid cell (a0..g6) to category (person, dog, cat, bird, boat, bicycle, airplane)"`
	Logic      string            `json:"logic,omitempty" jsonschema:"how grid cells combine: OR (default) or AND"`
	MaxObjects int               `json:"max_objects,omitempty" jsonschema:"drop frames with more detected objects; 0 disables"`
	Tag        string            `json:"tag,omitempty" jsonschema:"tag phrase, e.g. beach sunset"`
	Entities   []string          `json:"entities,omitempty" jsonschema:"explicit tag entities; override entities extracted from tag"`

	TextWeight   *float64 `json:"text_weight,omitempty" jsonschema:"weight of the text modality in [0,1]"`
	ObjectWeight *float64 `json:"object_weight,omitempty" jsonschema:"weight of the object modality in [0,1]"`
	TagWeight    *float64 `json:"tag_weight,omitempty" jsonschema:"weight of the tag modality in [0,1]"`

	Page    int    `json:"page,omitempty" jsonschema:"1-based page number, default 1"`
	PerPage int    `json:"per_page,omitempty" jsonschema:"results per page, default 20"`
	User    string `json:"user,omitempty" jsonschema:"user whose selection marks the results"`
}

// SearchOutput defines the output schema for the search_keyframes tool.
type SearchOutput struct {
	Frames  []FrameOutput `json:"frames" jsonschema:"ranked keyframes for the requested page"`
	Total   int           `json:"total" jsonschema:"number of fused candidates"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
	HasMore bool          `json:"has_more" jsonschema:"true if another page may exist"`
}

// FrameOutput is one keyframe in a tool result.
type FrameOutput struct {
	Key         string             `json:"id" jsonschema:"frame key"`
	Score       float64            `json:"score" jsonschema:"final score of the frame"`
	Selected    bool               `json:"selected" jsonschema:"true if the user has selected this frame"`
	FramePath   string             `json:"frame_path"`
	VideoPath   string             `json:"video_path,omitempty"`
	Timestamp   float64            `json:"timestamp" jsonschema:"seconds into the video"`
	Modalities  map[string]float64 `json:"modalities,omitempty" jsonschema:"score each modality contributed"`
	Tags        []string           `json:"tags,omitempty"`
	MatchReason string             `json:"match_reason,omitempty" jsonschema:"human-readable explanation of why this frame matched"`
}

// ToggleSelectionInput defines the input schema for the toggle_selection tool.
type ToggleSelectionInput struct {
	Key   string  `json:"id" jsonschema:"frame key to select or deselect"`
	Score float64 `json:"score,omitempty" jsonschema:"score to record with the selection"`
	User  string  `json:"user,omitempty" jsonschema:"user id, defaults to the configured user"`
}

// ToggleSelectionOutput defines the output schema for the toggle_selection tool.
type ToggleSelectionOutput struct {
	Key      string `json:"id"`
	Selected bool   `json:"selected" jsonschema:"selection state after the toggle"`
}

// UserInput is the input of the list_selection and clear_selection tools.
type UserInput struct {
	User string `json:"user,omitempty" jsonschema:"user id, defaults to the configured user"`
}

// ListSelectionOutput defines the output schema for the list_selection tool.
type ListSelectionOutput struct {
	User   string        `json:"user"`
	Count  int           `json:"count"`
	Frames []FrameOutput `json:"frames" jsonschema:"selected frames, highest score first"`
}

// ClearSelectionOutput defines the output schema for the clear_selection tool.
type ClearSelectionOutput struct {
	User    string `json:"user"`
	Cleared bool   `json:"cleared"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Frames     int           `json:"frames" jsonschema:"keyframes in the metadata table"`
	Index      IndexInfo     `json:"index"`
	Embeddings EmbeddingInfo `json:"embeddings"`
	Modalities []string      `json:"modalities" jsonschema:"modalities this server can search"`
	Weights    WeightsInfo   `json:"default_weights"`
}

// IndexInfo describes the dense text index.
type IndexInfo struct {
	Backend    string  `json:"backend"`
	Location   string  `json:"location,omitempty"`
	Model      string  `json:"model,omitempty"`
	Dimensions int     `json:"dimensions"`
	Metric     string  `json:"metric"`
	Vectors    int     `json:"vectors"`
	Coverage   float64 `json:"coverage" jsonschema:"share of frames with a vector, 0 to 1"`
	SizeBytes  int64   `json:"size_bytes,omitempty"`
	BuiltAt    string  `json:"built_at,omitempty"`
}

// EmbeddingInfo describes the query encoder.
type EmbeddingInfo struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Status     string `json:"status" jsonschema:"ready, unavailable or not configured"`
}

// WeightsInfo mirrors the default fusion weights.
type WeightsInfo struct {
	Text   float64 `json:"text"`
	Object float64 `json:"object"`
	Tag    float64 `json:"tag"`
}
