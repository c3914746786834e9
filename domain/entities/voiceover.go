package entities

import (
	"fmt"
	"time"
)

// SegmentStatus represents the synthesis state of a segment
type SegmentStatus string

const (
	SegmentStatusPending   SegmentStatus = "pending"
	SegmentStatusCompleted SegmentStatus = "completed"
	SegmentStatusFailed    SegmentStatus = "failed"
)

// Segment is one ordered partition of the normalized script
type Segment struct {
	Index     int      `json:"index"` // 1-based
	Sentences []string `json:"-"`
	Text      string   `json:"text"`
	Words     int      `json:"words"`
}

// SegmentRecord is the persisted state of a synthesized segment
type SegmentRecord struct {
	Index           int           `json:"index" bson:"index"`
	Text            string        `json:"text" bson:"text"`
	Status          SegmentStatus `json:"status" bson:"status"`
	Path            string        `json:"path,omitempty" bson:"path,omitempty"`
	URL             string        `json:"url,omitempty" bson:"url,omitempty"`
	DurationSeconds float64       `json:"duration" bson:"duration_seconds"`
	ByteSize        int64         `json:"size" bson:"byte_size"`
	ChunksTotal     int           `json:"chunksTotal" bson:"chunks_total"`
	ChunksFailed    int           `json:"chunksFailed" bson:"chunks_failed"`
	Error           string        `json:"error,omitempty" bson:"error,omitempty"`
	UpdatedAt       time.Time     `json:"updatedAt" bson:"updated_at"`
}

// CombinedAsset describes the final stitched voice-over
type CombinedAsset struct {
	Path            string  `json:"path" bson:"path"`
	URL             string  `json:"url" bson:"url"`
	DurationSeconds float64 `json:"duration" bson:"duration_seconds"`
	ByteSize        int64   `json:"size" bson:"byte_size"`
}

// RepetitionRange is a [Start, End) interval in seconds of duplicated speech
type RepetitionRange struct {
	Start float64 `json:"start" bson:"start"`
	End   float64 `json:"end" bson:"end"`
	Text  string  `json:"text" bson:"text"`
}

// Duration returns the length of the range in seconds
func (r RepetitionRange) Duration() float64 {
	return r.End - r.Start
}

// AssetGroup ties together every persisted asset of one voice-over request
type AssetGroup struct {
	ID                 string            `json:"assetGroupId" bson:"_id"`
	Segments           []SegmentRecord   `json:"segments" bson:"segments"`
	Combined           *CombinedAsset    `json:"combined,omitempty" bson:"combined,omitempty"`
	Speed              float64           `json:"speed" bson:"speed"`
	ReferenceVoiceURL  string            `json:"referenceVoiceUrl,omitempty" bson:"reference_voice_url,omitempty"`
	RepetitionsRemoved []RepetitionRange `json:"repetitionsRemoved,omitempty" bson:"repetitions_removed,omitempty"`
	CreatedAt          time.Time         `json:"createdAt" bson:"created_at"`
	UpdatedAt          time.Time         `json:"updatedAt" bson:"updated_at"`
}

// Segment returns the record with the given 1-based index
func (g *AssetGroup) Segment(index int) (*SegmentRecord, bool) {
	for i := range g.Segments {
		if g.Segments[i].Index == index {
			return &g.Segments[i], true
		}
	}
	return nil, false
}

// CompletedSegments returns the completed records in script order
func (g *AssetGroup) CompletedSegments() []SegmentRecord {
	out := make([]SegmentRecord, 0, len(g.Segments))
	for _, s := range g.Segments {
		if s.Status == SegmentStatusCompleted {
			out = append(out, s)
		}
	}
	return out
}

// FailedIndices returns the indices of segments that need regeneration
func (g *AssetGroup) FailedIndices() []int {
	var out []int
	for _, s := range g.Segments {
		if s.Status != SegmentStatusCompleted {
			out = append(out, s.Index)
		}
	}
	return out
}

// SegmentPath returns the storage path of a segment asset
func SegmentPath(assetGroupID string, index int) string {
	return fmt.Sprintf("%s/segment-%d.wav", assetGroupID, index)
}

// VoiceoverPath returns the storage path of the combined asset
func VoiceoverPath(assetGroupID string) string {
	return assetGroupID + "/voiceover.wav"
}

// VoiceoverResult is returned to callers once a request completes
type VoiceoverResult struct {
	AssetGroupID    string            `json:"assetGroupId"`
	URL             string            `json:"url"`
	Path            string            `json:"path"`
	DurationSeconds float64           `json:"duration"`
	ByteSize        int64             `json:"size"`
	Speed           float64           `json:"speed"`
	Segments        []SegmentRecord   `json:"segments"`
	FailedSegments  []int             `json:"failedSegments"`
	RemovedRanges   []RepetitionRange `json:"removedRanges,omitempty"`
}
