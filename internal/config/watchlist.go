package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"unicode"

	"tenderwatch/internal/domain"

	"gopkg.in/yaml.v3"
)

const innPrefix = "ИНН"

//nolint:gochecknoglobals // Built-in watchlist used when no file is configured.
var (
	defaultCompanies = []string{
		"АО АКРОН ХОЛДИНГ ИНН6324023665",
		"ПАО Совкомбанк ИНН4401116480",
		"АО СЛПК ИНН1121003135",
	}

	defaultVendors = []string{
		"Cisco", "HPE", "Dell", "Lenovo", "IBM", "Oracle",
		"Microsoft", "VMware", "Huawei", "Fortinet", "Brocade",
		"Kaspersky", "DrWeb", "1C", "Bitrix24", "BPMSoft",
	}

	defaultKeywords = []string{
		"техническая поддержка", "сервисная поддержка",
		"поставка оборудования", "сервер", "сетевое оборудование",
		"ИТ услуги", "информационная безопасность", "СЗИ",
		"лицензии", "ПО", "software", "облако", "облачные услуги",
	}
)

// Watchlist is the operator-supplied file with feed sources and matching lists.
type Watchlist struct {
	Sources   []Source  `yaml:"sources"`
	Companies []Company `yaml:"companies"`
	Vendors   []string  `yaml:"vendors"`
	Keywords  []string  `yaml:"keywords"`
}

type Source struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Company accepts either {name, inn} or the legacy "NAME ИНН<digits>" string.
type Company struct {
	Name string `yaml:"name"`
	INN  string `yaml:"inn"`
}

func (c *Company) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*c = ParseCompany(node.Value)
		return nil
	}

	type plain Company
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}

	*c = Company(p)
	c.Name = normalizeSpaces(c.Name)
	c.INN = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(c.INN), innPrefix))

	return nil
}

// ParseCompany splits "АО АКРОН ХОЛДИНГ ИНН6324023665" into name and identifier.
// A string without a trailing identifier becomes a name-only company.
func ParseCompany(raw string) Company {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return Company{}
	}

	inn := strings.TrimPrefix(fields[len(fields)-1], innPrefix)
	if !isDigits(inn) {
		return Company{Name: strings.Join(fields, " ")}
	}

	name := fields[:len(fields)-1]
	if len(name) > 0 && name[len(name)-1] == innPrefix {
		name = name[:len(name)-1]
	}

	return Company{Name: strings.Join(name, " "), INN: inn}
}

func LoadWatchlist(path string) (*Watchlist, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultWatchlist(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watchlist file: %w", err)
	}

	return ParseWatchlist(data)
}

func ParseWatchlist(data []byte) (*Watchlist, error) {
	var w Watchlist
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse watchlist: %w", err)
	}

	defaults := DefaultWatchlist()
	if w.Companies == nil {
		w.Companies = defaults.Companies
	}
	if w.Vendors == nil {
		w.Vendors = defaults.Vendors
	}
	if w.Keywords == nil {
		w.Keywords = defaults.Keywords
	}

	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("validate watchlist: %w", err)
	}

	return &w, nil
}

func DefaultWatchlist() *Watchlist {
	companies := make([]Company, 0, len(defaultCompanies))
	for _, raw := range defaultCompanies {
		companies = append(companies, ParseCompany(raw))
	}

	return &Watchlist{
		Companies: companies,
		Vendors:   append([]string(nil), defaultVendors...),
		Keywords:  append([]string(nil), defaultKeywords...),
	}
}

func (w *Watchlist) Validate() error {
	var errs []error

	names := make(map[string]struct{}, len(w.Sources))
	for i, s := range w.Sources {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: name is empty", i))
		}
		if _, ok := names[name]; ok {
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate name %q", i, name))
		}
		names[name] = struct{}{}

		u, err := url.Parse(strings.TrimSpace(s.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: malformed URL %q", i, s.URL))
		}
	}

	for i, c := range w.Companies {
		if c.Name == "" && c.INN == "" {
			errs = append(errs, fmt.Errorf("companies[%d]: name and inn are empty", i))
		}
	}

	return errors.Join(errs...)
}

func (w *Watchlist) FeedSources() []domain.FeedSource {
	sources := make([]domain.FeedSource, 0, len(w.Sources))
	for _, s := range w.Sources {
		sources = append(sources, domain.FeedSource{
			Name: strings.TrimSpace(s.Name),
			URL:  strings.TrimSpace(s.URL),
		})
	}
	return sources
}

func (w *Watchlist) Domain() domain.Watchlist {
	companies := make([]domain.WatchEntry, 0, len(w.Companies))
	for _, c := range w.Companies {
		companies = append(companies, domain.WatchEntry{
			DisplayName: c.Name,
			Identifier:  c.INN,
		})
	}

	return domain.Watchlist{
		Companies: companies,
		Vendors:   nonEmpty(w.Vendors),
		Keywords:  nonEmpty(w.Keywords),
	}
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = normalizeSpaces(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func normalizeSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
