package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/adlibrary-harvester/internal/models"
)

var ErrPersistence = errors.New("persistence failed")

const (
	FormatJSON    = "json"
	FormatCSV     = "csv"
	FormatSummary = "summary"
)

// MediaDelimiter joins media URLs inside a single CSV cell.
const MediaDelimiter = " | "

var CSVHeader = []string{
	"advertiser", "text", "cta_text", "sponsor_info",
	"media_count", "media_urls", "date_scraped", "proxy", "timestamp",
}

// AdRecord is the persisted shape of one extracted record.
type AdRecord struct {
	Advertiser     string   `json:"advertiser"`
	Text           string   `json:"text"`
	CTAText        string   `json:"ctaText"`
	SponsorInfo    string   `json:"sponsorInfo"`
	Media          []string `json:"media"`
	DateScraped    string   `json:"dateScraped"`
	Proxy          string   `json:"proxy"`
	TimestampEpoch int64    `json:"timestampEpoch"`
}

type OutputFiles struct {
	JSON string `json:"json"`
	CSV  string `json:"csv"`
}

// SummaryFile is the persisted run summary.
type SummaryFile struct {
	ScrapeDate        string      `json:"scrapeDate"`
	SearchTerm        string      `json:"searchTerm"`
	CountryFilter     string      `json:"countryFilter"`
	TotalAds          int         `json:"totalAds"`
	UniqueAdvertisers int         `json:"uniqueAdvertisers"`
	ProxiesUsed       int         `json:"proxiesUsed"`
	SuccessfulProxies int         `json:"successfulProxies"`
	FailedProxies     int         `json:"failedProxies"`
	BlockedProxies    int         `json:"blockedProxies"`
	DurationSeconds   float64     `json:"durationSeconds"`
	OutputFiles       OutputFiles `json:"outputFiles"`
}

// Sink is an additional destination selected by name in the format list,
// such as a database or a message stream.
type Sink interface {
	Name() string
	Write(ctx context.Context, records []models.ExtractedRecord, summary models.JobSummary) (string, error)
}

// Persister writes the aggregated result set in several formats.
type Persister struct {
	dir    string
	sinks  map[string]Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewPersister(dir string, logger *slog.Logger, sinks ...Sink) *Persister {
	p := &Persister{
		dir:    dir,
		sinks:  make(map[string]Sink, len(sinks)),
		logger: logger.With("component", "persister"),
		now:    time.Now,
	}
	for _, s := range sinks {
		p.sinks[s.Name()] = s
	}
	return p
}

// Save writes every requested format and returns the locations written.
// Formats are independent: a failure is logged, collected into the
// returned error and does not stop the remaining formats. The summary is
// written after the files it references. ctx only bounds the sinks; local
// files are written even after it is cancelled.
func (p *Persister) Save(ctx context.Context, records []models.ExtractedRecord, summary models.JobSummary, formats []string) ([]string, error) {
	stamp := p.now()
	base := fmt.Sprintf("%s_%d", slug(summary.SearchTerm), stamp.Unix())

	var (
		written     []string
		errs        []error
		outputs     OutputFiles
		wantSummary bool
	)

	fail := func(format string, err error) {
		err = fmt.Errorf("%w: %s: %w", ErrPersistence, format, err)
		p.logger.Error("failed to persist format", "format", format, "error", err)
		errs = append(errs, err)
	}

	for _, format := range dedupFormats(formats) {
		switch format {
		case FormatJSON:
			path := filepath.Join(p.dir, "ads_"+base+".json")
			if err := p.writeJSON(path, records); err != nil {
				fail(format, err)
				continue
			}
			outputs.JSON = path
			written = append(written, path)
		case FormatCSV:
			path := filepath.Join(p.dir, "ads_"+base+".csv")
			if err := p.writeCSV(path, records); err != nil {
				fail(format, err)
				continue
			}
			outputs.CSV = path
			written = append(written, path)
		case FormatSummary:
			wantSummary = true
		default:
			sink, ok := p.sinks[format]
			if !ok {
				fail(format, errors.New("unknown format"))
				continue
			}
			if err := ctx.Err(); err != nil {
				fail(format, err)
				continue
			}
			location, err := sink.Write(ctx, records, summary)
			if err != nil {
				fail(format, err)
				continue
			}
			written = append(written, location)
		}
	}

	if wantSummary {
		path := filepath.Join(p.dir, "summary_"+base+".json")
		if err := p.writeSummary(path, summary, stamp, outputs); err != nil {
			fail(FormatSummary, err)
		} else {
			written = append(written, path)
		}
	}

	p.logger.Info("persisted results", "records", len(records), "written", written, "failures", len(errs))
	return written, errors.Join(errs...)
}

func (p *Persister) writeJSON(path string, records []models.ExtractedRecord) error {
	rows := make([]AdRecord, 0, len(records))
	for _, r := range records {
		rows = append(rows, ToAdRecord(r))
	}
	data, err := marshal(rows)
	if err != nil {
		return err
	}
	return p.writeAtomic(path, data)
}

func (p *Persister) writeCSV(path string, records []models.ExtractedRecord) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(CSVHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		ad := ToAdRecord(r)
		row := []string{
			flatten(ad.Advertiser),
			flatten(ad.Text),
			flatten(ad.CTAText),
			flatten(ad.SponsorInfo),
			strconv.Itoa(len(ad.Media)),
			strings.Join(ad.Media, MediaDelimiter),
			ad.DateScraped,
			ad.Proxy,
			strconv.FormatInt(ad.TimestampEpoch, 10),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	return p.writeAtomic(path, buf.Bytes())
}

func (p *Persister) writeSummary(path string, summary models.JobSummary, stamp time.Time, outputs OutputFiles) error {
	data, err := marshal(SummaryFile{
		ScrapeDate:        stamp.UTC().Format(time.RFC3339),
		SearchTerm:        summary.SearchTerm,
		CountryFilter:     summary.CountryFilter,
		TotalAds:          summary.TotalRecords,
		UniqueAdvertisers: summary.UniqueAdvertiserCount,
		ProxiesUsed:       len(summary.ProxiesUsed),
		SuccessfulProxies: summary.SuccessfulSessions,
		FailedProxies:     summary.FailedSessions,
		BlockedProxies:    summary.BlockedSessions,
		DurationSeconds:   summary.DurationSeconds,
		OutputFiles:       outputs,
	})
	if err != nil {
		return err
	}
	return p.writeAtomic(path, data)
}

// writeAtomic writes to a temp file in the target directory, then renames.
func (p *Persister) writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// LoadJSON reads a JSON artifact written by Save.
func LoadJSON(path string) ([]AdRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []AdRecord
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return rows, nil
}

// ToAdRecord converts an extracted record to its persisted shape.
func ToAdRecord(r models.ExtractedRecord) AdRecord {
	media := r.MediaURLs
	if media == nil {
		media = []string{}
	}
	return AdRecord{
		Advertiser:     r.Field(models.FieldAdvertiser),
		Text:           r.Field(models.FieldText),
		CTAText:        r.Field(models.FieldCTAText),
		SponsorInfo:    r.Field(models.FieldSponsorInfo),
		Media:          media,
		DateScraped:    r.ExtractedAt.UTC().Format(time.RFC3339),
		Proxy:          r.SourceProxy,
		TimestampEpoch: r.ExtractedAt.Unix(),
	}
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

var newlineReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func flatten(s string) string {
	return newlineReplacer.Replace(s)
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	out := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "_"), "_")
	if out == "" {
		return "all"
	}
	return out
}

func dedupFormats(formats []string) []string {
	seen := make(map[string]struct{}, len(formats))
	out := make([]string, 0, len(formats))
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
