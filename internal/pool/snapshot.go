package pool

const (
	// DefaultMinWords is the floor applied to article length settings.
	DefaultMinWords = 800
	// MinWordsFloor is the absolute minimum accepted for min_words.
	MinWordsFloor = 200
	// WordMargin is the enforced gap between min and max words.
	WordMargin = 200
	// DefaultThreadCount bounds batch parallelism when unset.
	DefaultThreadCount = 8
	// DefaultAutoPageCount is the default batch size for auto builds.
	DefaultAutoPageCount = 12
	// DefaultModel is the generation model identifier used when the
	// settings carry none.
	DefaultModel = "deepseek-chat"
)

// GenerationSettings holds the admin-owned knobs read once per Ensure or
// batch call. They live inside the snapshot so an external settings surface
// can update them between operations.
type GenerationSettings struct {
	AutoPageCount   int      `json:"auto_page_count"`
	DefaultKeywords []string `json:"default_keywords"`
	Model           string   `json:"model"`
	ThreadCount     int      `json:"thread_count"`
	MinWords        int      `json:"article_min_words"`
	MaxWords        int      `json:"article_max_words"`
}

// Normalized returns a copy with invalid values auto-corrected: word bounds
// clamped and max forced above min by the configured margin, thread count
// forced positive.
func (s GenerationSettings) Normalized() GenerationSettings {
	out := s
	if out.MinWords <= 0 {
		out.MinWords = DefaultMinWords
	}
	if out.MinWords < MinWordsFloor {
		out.MinWords = MinWordsFloor
	}
	if out.MaxWords <= out.MinWords {
		out.MaxWords = out.MinWords + WordMargin
	}
	if out.ThreadCount <= 0 {
		out.ThreadCount = DefaultThreadCount
	}
	if out.AutoPageCount <= 0 {
		out.AutoPageCount = DefaultAutoPageCount
	}
	if out.Model == "" {
		out.Model = DefaultModel
	}
	return out
}

// Snapshot is the full persisted state of the pool. Providers load and save
// it as one unit; the cache layer guarantees per-slug mutual exclusion on
// top of it.
type Snapshot struct {
	Domains       []Domain           `json:"domains"`
	ExternalLinks []ExternalLink     `json:"external_links"`
	Pages         map[string]Page    `json:"pages"`
	ViewStats     map[string]int64   `json:"view_stats"`
	Settings      GenerationSettings `json:"settings"`
}

// DefaultSnapshot returns an empty snapshot with normalized settings,
// matching the state a fresh deployment starts from.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Domains:       []Domain{},
		ExternalLinks: []ExternalLink{},
		Pages:         map[string]Page{},
		ViewStats:     map[string]int64{},
		Settings:      GenerationSettings{}.Normalized(),
	}
}

// Clone returns a deep copy so callers can mutate freely without racing
// against the store's internal state.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Domains = append([]Domain(nil), s.Domains...)
	out.ExternalLinks = append([]ExternalLink(nil), s.ExternalLinks...)
	out.Pages = make(map[string]Page, len(s.Pages))
	for slug, page := range s.Pages {
		cp := page
		cp.Keywords = append([]string(nil), page.Keywords...)
		cp.Links = append([]Link(nil), page.Links...)
		out.Pages[slug] = cp
	}
	out.ViewStats = make(map[string]int64, len(s.ViewStats))
	for slug, count := range s.ViewStats {
		out.ViewStats[slug] = count
	}
	out.Settings.DefaultKeywords = append([]string(nil), s.Settings.DefaultKeywords...)
	return out
}

// Normalize fills nil maps and corrects settings after a load from an
// external source (file on disk, database row).
func (s *Snapshot) Normalize() {
	if s.Pages == nil {
		s.Pages = map[string]Page{}
	}
	if s.ViewStats == nil {
		s.ViewStats = map[string]int64{}
	}
	s.Settings = s.Settings.Normalized()
}

// MergeViews folds observed view counts into the snapshot without ever
// lowering a previously recorded count.
func (s *Snapshot) MergeViews(views map[string]int64) {
	if s.ViewStats == nil {
		s.ViewStats = make(map[string]int64, len(views))
	}
	for slug, count := range views {
		if count > s.ViewStats[slug] {
			s.ViewStats[slug] = count
		}
	}
}
