// stats.go — статистика по живым файлам реестра.
//
// Aggregate — чистая функция от набора записей. StatsService кэширует
// результат в LRU по версии реестра: любая загрузка, удаление или
// скачивание увеличивает версию, и следующий запрос пересчитывает снимок.
// Одновременные промахи по одной версии схлопываются через singleflight.
package service

import (
	"context"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
)

// Prometheus-метрики кэша статистики.
var (
	statsCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_stats_cache_hits_total",
		Help: "Общее количество попаданий в кэш статистики.",
	})
	statsCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_stats_cache_misses_total",
		Help: "Общее количество промахов кэша статистики.",
	})
)

// CategoryStats — агрегаты одной категории.
type CategoryStats struct {
	Count          int    `json:"count"`
	TotalSize      int64  `json:"total_size"`
	TotalSizeHuman string `json:"total_size_human"`
}

// Stats — снимок статистики реестра. Не изменяется после создания.
type Stats struct {
	TotalFiles     int                      `json:"total_files"`
	TotalSize      int64                    `json:"total_size"`
	TotalSizeHuman string                   `json:"total_size_human"`
	TotalDownloads int64                    `json:"total_downloads"`
	Categories     map[string]CategoryStats `json:"categories"`
	Uploaders      map[string]int           `json:"uploaders"`
	Recent         []model.FileView         `json:"recent"`
	GeneratedAt    time.Time                `json:"generated_at"`
}

// Aggregate считает статистику по набору живых записей.
// Отрицательные размеры и счётчики считаются нулём, nil-записи пропускаются.
// recent — не более recentLimit последних загрузок.
func Aggregate(records []*model.FileRecord, recentLimit int) *Stats {
	st := &Stats{
		Categories:  make(map[string]CategoryStats),
		Uploaders:   make(map[string]int),
		Recent:      []model.FileView{},
		GeneratedAt: time.Now().UTC(),
	}

	live := make([]*model.FileRecord, 0, len(records))
	for _, rec := range records {
		if rec == nil || rec.Deleted {
			continue
		}
		live = append(live, rec)

		size := max(rec.Size, 0)
		downloads := max(rec.Downloads, 0)

		st.TotalFiles++
		st.TotalSize += size
		st.TotalDownloads += downloads

		category := rec.Category
		if category == "" {
			category = model.DefaultCategory
		}
		cs := st.Categories[category]
		cs.Count++
		cs.TotalSize += size
		st.Categories[category] = cs

		uploader := rec.UploaderName
		if uploader == "" {
			uploader = model.AnonymousName
		}
		st.Uploaders[uploader]++
	}

	for name, cs := range st.Categories {
		cs.TotalSizeHuman = humanize.IBytes(uint64(cs.TotalSize))
		st.Categories[name] = cs
	}
	st.TotalSizeHuman = humanize.IBytes(uint64(st.TotalSize))

	if recentLimit > 0 {
		SortNewestFirst(live)
		if len(live) > recentLimit {
			live = live[:recentLimit]
		}
		for _, rec := range live {
			st.Recent = append(st.Recent, rec.View())
		}
	}
	return st
}

// RecordSource — источник живых записей с версией изменений.
type RecordSource interface {
	Records(ctx context.Context) ([]*model.FileRecord, error)
	Version() uint64
}

// StatsService — статистика с кэшем по версии реестра.
type StatsService struct {
	source      RecordSource
	cache       *expirable.LRU[uint64, *Stats]
	group       singleflight.Group
	recentLimit int
}

// NewStatsService создаёт сервис статистики.
// cacheSize — число хранимых снимков, ttl — время жизни снимка.
func NewStatsService(source RecordSource, recentLimit, cacheSize int, ttl time.Duration) *StatsService {
	return &StatsService{
		source:      source,
		cache:       expirable.NewLRU[uint64, *Stats](cacheSize, nil, ttl),
		recentLimit: recentLimit,
	}
}

// Stats возвращает снимок статистики для текущей версии реестра.
func (s *StatsService) Stats(ctx context.Context) (*Stats, error) {
	version := s.source.Version()
	if st, ok := s.cache.Get(version); ok {
		statsCacheHitsTotal.Inc()
		return st, nil
	}
	statsCacheMissesTotal.Inc()

	v, err, _ := s.group.Do(strconv.FormatUint(version, 10), func() (any, error) {
		records, err := s.source.Records(ctx)
		if err != nil {
			return nil, err
		}
		st := Aggregate(records, s.recentLimit)
		s.cache.Add(version, st)
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Stats), nil
}
