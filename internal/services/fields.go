package services

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TemplateData is the canonical, alias-free data bound into a template.
type TemplateData map[string]any

// FieldSpec lists the accepted spellings of one logical field, in order of
// preference.
type FieldSpec struct {
	Name     string
	Synonyms []string
	Required bool
}

type FieldTable struct {
	fields []FieldSpec
}

var defaultFields = []FieldSpec{
	{Name: "nomor_surat", Synonyms: []string{"nomorSurat", "letter_number", "letterNumber"}},
	{Name: "nama_lengkap", Synonyms: []string{"namaLengkap", "nama", "fullName"}, Required: true},
	{Name: "nim", Synonyms: []string{"NIM", "studentNumber"}, Required: true},
	{Name: "tempat_lahir", Synonyms: []string{"tempatLahir"}, Required: true},
	{Name: "tanggal_lahir", Synonyms: []string{"tanggalLahir"}, Required: true},
	{Name: "no_hp", Synonyms: []string{"noHp", "noHP", "nomor_hp", "phone"}, Required: true},
	{Name: "tahun_akademik", Synonyms: []string{"tahunAkademik"}},
	{Name: "jurusan", Synonyms: []string{"departemen", "department"}},
	{Name: "program_studi", Synonyms: []string{"programStudi", "prodi"}, Required: true},
	{Name: "semester", Required: true},
	{Name: "ipk", Synonyms: []string{"IPK"}, Required: true},
	{Name: "ips", Synonyms: []string{"IPS"}, Required: true},
	{Name: "keperluan", Synonyms: []string{"tujuan", "purpose"}},
	{Name: "tanggal_surat", Synonyms: []string{"tanggalSurat"}},
	{Name: "jabatan_penandatangan", Synonyms: []string{"jabatanPenandatangan"}},
	{Name: "nama_penandatangan", Synonyms: []string{"namaPenandatangan"}},
	{Name: "nip_penandatangan", Synonyms: []string{"nipPenandatangan"}},
	{Name: "nama_beasiswa", Synonyms: []string{"namaBeasiswa", "scholarshipName"}},
}

func DefaultFieldTable() *FieldTable {
	fields := make([]FieldSpec, len(defaultFields))
	for i, f := range defaultFields {
		f.Synonyms = append([]string(nil), f.Synonyms...)
		fields[i] = f
	}
	return &FieldTable{fields: fields}
}

type aliasFile struct {
	Fields map[string][]string `yaml:"fields"`
}

// LoadFieldTable extends the default table with the synonyms of a YAML file:
//
//	fields:
//	  nama_lengkap: [full_name, student_name]
//
// Extra synonyms are tried after the built-in ones. Unknown field names add
// optional fields.
func LoadFieldTable(path string) (*FieldTable, error) {
	table := DefaultFieldTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read field alias file: %w", err)
	}
	var file aliasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse field alias file: %w", err)
	}

	names := make([]string, 0, len(file.Fields))
	for name := range file.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		table.extend(name, file.Fields[name])
	}
	return table, nil
}

func (t *FieldTable) extend(name string, synonyms []string) {
	for i := range t.fields {
		if t.fields[i].Name != name {
			continue
		}
		for _, s := range synonyms {
			if s != name && !contains(t.fields[i].Synonyms, s) {
				t.fields[i].Synonyms = append(t.fields[i].Synonyms, s)
			}
		}
		return
	}
	t.fields = append(t.fields, FieldSpec{Name: name, Synonyms: synonyms})
}

func (t *FieldTable) Fields() []FieldSpec {
	return t.fields
}

// Resolve maps a form payload onto canonical field names. For each logical
// field the canonical key is tried first, then its synonyms, and the first
// non-empty value wins. Keys that are not a spelling of any field pass
// through unchanged. Every missing required field is reported at once.
func (t *FieldTable) Resolve(form map[string]any, now time.Time) (TemplateData, error) {
	data := make(TemplateData, len(form))
	claimed := make(map[string]bool)
	var missing ValidationErrors

	for _, field := range t.fields {
		claimed[field.Name] = true
		for _, s := range field.Synonyms {
			claimed[s] = true
		}

		value, ok := firstPresent(form, field)
		if !ok {
			if field.Required {
				missing = append(missing, &ValidationError{Field: field.Name, Message: "is required"})
			}
			continue
		}
		data[field.Name] = value
	}

	if len(missing) > 0 {
		return nil, missing
	}

	for key, value := range form {
		if !claimed[key] {
			data[key] = value
		}
	}

	if birth, ok := data["tanggal_lahir"].(string); ok {
		if parsed, err := time.Parse("2006-01-02", strings.TrimSpace(birth)); err == nil {
			data["tanggal_lahir"] = FormatIndonesianDate(parsed)
		}
	}
	if _, ok := data["tanggal_surat"]; !ok {
		data["tanggal_surat"] = FormatIndonesianDate(now)
	}
	return data, nil
}

func firstPresent(form map[string]any, field FieldSpec) (any, bool) {
	if value, ok := form[field.Name]; ok && !isBlank(value) {
		return value, true
	}
	for _, key := range field.Synonyms {
		if value, ok := form[key]; ok && !isBlank(value) {
			return value, true
		}
	}
	return nil, false
}

func isBlank(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case *string:
		return v == nil || strings.TrimSpace(*v) == ""
	default:
		return false
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

var indonesianMonths = [...]string{
	"Januari", "Februari", "Maret", "April", "Mei", "Juni",
	"Juli", "Agustus", "September", "Oktober", "November", "Desember",
}

// FormatIndonesianDate renders a date the way letters print it, e.g.
// "5 Desember 2025".
func FormatIndonesianDate(t time.Time) string {
	return fmt.Sprintf("%d %s %d", t.Day(), indonesianMonths[t.Month()-1], t.Year())
}
