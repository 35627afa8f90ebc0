package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"SRL-GEN/internal/logger"
	"SRL-GEN/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxSequence = 999

var romanMonths = [...]string{"I", "II", "III", "IV", "V", "VI", "VII", "VIII", "IX", "X", "XI", "XII"}

var leadingSequence = regexp.MustCompile(`^(\d+)/`)

// NumberingService issues letter numbers of the form
// NNN/<org>/KM/<roman month>/<year>. The letter_sequences row of a
// (type, year, month) bucket is the only source of the next sequence.
type NumberingService struct {
	db           *gorm.DB
	orgCode      string
	letterType   string
	format       *regexp.Regexp
	verification *VerificationService
	log          *zap.Logger
	now          func() time.Time
}

type NumberResult struct {
	Number       string                     `json:"letter_number"`
	Sequence     int                        `json:"sequence"`
	Verification *models.LetterVerification `json:"verification,omitempty"`
}

type ParsedNumber struct {
	Sequence int
	Month    int
	Year     int
}

func NewNumberingService(db *gorm.DB, orgCode, letterType string, verification *VerificationService, log *zap.Logger) *NumberingService {
	return &NumberingService{
		db:           db,
		orgCode:      orgCode,
		letterType:   letterType,
		format:       regexp.MustCompile(`^\d{3}/` + regexp.QuoteMeta(orgCode) + `/KM/[IVX]+/\d{4}$`),
		verification: verification,
		log:          logger.OrNop(log),
		now:          time.Now,
	}
}

func (s *NumberingService) DefaultLetterType() string {
	return s.letterType
}

func MonthToRoman(month int) (string, error) {
	if month < 1 || month > 12 {
		return "", fmt.Errorf("month %d out of range", month)
	}
	return romanMonths[month-1], nil
}

// Numbers carry the year as exactly four digits.
func checkYear(year int) error {
	if year < 1000 || year > 9999 {
		return &ValidationError{Field: "year", Message: fmt.Sprintf("year %d must have four digits", year)}
	}
	return nil
}

func RomanToMonth(roman string) (int, error) {
	for i, r := range romanMonths {
		if r == roman {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%q is not a roman month", roman)
}

func (s *NumberingService) FormatNumber(sequence, month, year int) (string, error) {
	if err := checkYear(year); err != nil {
		return "", err
	}
	if sequence < 1 || sequence > maxSequence {
		return "", ErrSequenceExhausted
	}
	roman, err := MonthToRoman(month)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%03d/%s/KM/%s/%04d", sequence, s.orgCode, roman, year), nil
}

// ValidateFormat reports whether number has the exact letter number shape.
func (s *NumberingService) ValidateFormat(number string) bool {
	return s.format.MatchString(number)
}

func (s *NumberingService) ParseNumber(number string) (ParsedNumber, error) {
	if !s.ValidateFormat(number) {
		return ParsedNumber{}, &ValidationError{Field: "letter_number", Message: fmt.Sprintf("%q does not match NNN/%s/KM/<month>/<year>", number, s.orgCode)}
	}
	parts := strings.Split(number, "/")
	sequence, _ := strconv.Atoi(parts[0])
	year, _ := strconv.Atoi(parts[len(parts)-1])
	month, err := RomanToMonth(parts[len(parts)-2])
	if err != nil {
		return ParsedNumber{}, &ValidationError{Field: "letter_number", Message: err.Error()}
	}
	if sequence < 1 {
		return ParsedNumber{}, &ValidationError{Field: "letter_number", Message: "sequence must start at 001"}
	}
	return ParsedNumber{Sequence: sequence, Month: month, Year: year}, nil
}

func (s *NumberingService) typeOrDefault(letterType string) string {
	if letterType == "" {
		return s.letterType
	}
	return letterType
}

// PreviewNextNumber computes the number the next reservation in a bucket
// would get, without reserving it.
func (s *NumberingService) PreviewNextNumber(ctx context.Context, letterType string, year, month int) (*NumberResult, error) {
	letterType = s.typeOrDefault(letterType)
	if err := checkYear(year); err != nil {
		return nil, err
	}
	roman, err := MonthToRoman(month)
	if err != nil {
		return nil, &ValidationError{Field: "month", Message: err.Error()}
	}

	db := s.db.WithContext(ctx)
	var seq models.LetterSequence
	err = db.Where("letter_type = ? AND year = ? AND month = ?", letterType, year, month).First(&seq).Error
	last := seq.LastSequence
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if last, err = s.scanMaxSequence(db, roman, year); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read letter sequence: %w", err)
	}

	number, err := s.FormatNumber(last+1, month, year)
	if err != nil {
		return nil, err
	}
	return &NumberResult{Number: number, Sequence: last + 1}, nil
}

// GenerateNumber gives an application its letter number. An application
// that already has one gets it back unchanged. Reserving the sequence,
// assigning it and issuing the verification record happen in one
// transaction.
func (s *NumberingService) GenerateNumber(ctx context.Context, applicationID, letterType string, at time.Time) (*NumberResult, error) {
	letterType = s.typeOrDefault(letterType)
	if at.IsZero() {
		at = s.now()
	}
	year, month := at.Year(), int(at.Month())
	if err := checkYear(year); err != nil {
		return nil, err
	}

	if err := seedLetter(s.db.WithContext(ctx), applicationID, letterType); err != nil {
		return nil, err
	}
	if err := s.seedSequence(s.db.WithContext(ctx), letterType, year, month); err != nil {
		return nil, err
	}

	var result NumberResult
	err := retryTransaction(ctx, s.db, s.log, func(tx *gorm.DB) error {
		result = NumberResult{}
		letter, err := lockLetter(tx, applicationID)
		if err != nil {
			return err
		}

		if existing := letter.Number(); existing != "" {
			result.Number = existing
			if parsed, err := s.ParseNumber(existing); err == nil {
				result.Sequence = parsed.Sequence
			}
		} else {
			number, sequence, err := s.reserve(tx, letterType, year, month, applicationID)
			if err != nil {
				return err
			}
			if err := tx.Model(letter).Update("letter_number", number).Error; err != nil {
				if isDuplicateKey(err) {
					return &ConflictError{Number: number}
				}
				return fmt.Errorf("failed to assign letter number: %w", err)
			}
			result.Number, result.Sequence = number, sequence
		}

		verification, err := s.verification.issue(tx, applicationID, result.Number)
		if err != nil {
			return err
		}
		result.Verification = verification
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Letter number assigned",
		zap.String("application_id", applicationID),
		zap.String("letter_number", result.Number))
	return &result, nil
}

// reserve takes the next free sequence of a bucket under a row lock.
func (s *NumberingService) reserve(tx *gorm.DB, letterType string, year, month int, applicationID string) (string, int, error) {
	seq, err := s.lockSequence(tx, letterType, year, month)
	if err != nil {
		return "", 0, err
	}

	next := seq.LastSequence
	var number string
	for {
		next++
		if number, err = s.FormatNumber(next, month, year); err != nil {
			return "", 0, err
		}
		// Manually entered numbers may already sit above the counter.
		inUse, err := numberTaken(tx, number, applicationID)
		if err != nil {
			return "", 0, err
		}
		if !inUse {
			break
		}
	}

	if err := tx.Model(seq).Update("last_sequence", next).Error; err != nil {
		return "", 0, fmt.Errorf("failed to advance letter sequence: %w", err)
	}
	return number, next, nil
}

// seedSequence creates the row of a bucket the first time it is used,
// starting from the highest number already issued in that month. It runs
// outside the reserving transaction so that transaction only ever locks an
// existing row.
func (s *NumberingService) seedSequence(db *gorm.DB, letterType string, year, month int) error {
	var count int64
	err := db.Model(&models.LetterSequence{}).
		Where("letter_type = ? AND year = ? AND month = ?", letterType, year, month).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to read letter sequence: %w", err)
	}
	if count > 0 {
		return nil
	}

	roman, err := MonthToRoman(month)
	if err != nil {
		return err
	}
	seed, err := s.scanMaxSequence(db, roman, year)
	if err != nil {
		return err
	}
	created := models.LetterSequence{LetterType: letterType, Year: year, Month: month, LastSequence: seed}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&created).Error; err != nil {
		return fmt.Errorf("failed to create letter sequence: %w", err)
	}
	return nil
}

// lockSequence returns the seeded bucket row locked for update.
func (s *NumberingService) lockSequence(tx *gorm.DB, letterType string, year, month int) (*models.LetterSequence, error) {
	var seq models.LetterSequence
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("letter_type = ? AND year = ? AND month = ?", letterType, year, month).
		First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("letter sequence %s %04d-%02d was not seeded", letterType, year, month)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock letter sequence: %w", err)
	}
	return &seq, nil
}

// scanMaxSequence finds the highest sequence among issued letters of a
// month. It only seeds new buckets.
func (s *NumberingService) scanMaxSequence(tx *gorm.DB, roman string, year int) (int, error) {
	var numbers []string
	err := tx.Model(&models.Letter{}).
		Where("status IN ?", []string{models.LetterStatusPublished, models.LetterStatusCompleted}).
		Where("letter_number LIKE ?", fmt.Sprintf("%%/%s/%d", roman, year)).
		Pluck("letter_number", &numbers).Error
	if err != nil {
		return 0, fmt.Errorf("failed to scan issued letter numbers: %w", err)
	}

	suffix := fmt.Sprintf("/%s/%d", roman, year)
	highest := 0
	for _, number := range numbers {
		if !strings.HasSuffix(number, suffix) {
			continue
		}
		m := leadingSequence.FindStringSubmatch(number)
		if m == nil {
			continue
		}
		if seq, err := strconv.Atoi(m[1]); err == nil && seq > highest {
			highest = seq
		}
	}
	return highest, nil
}

// IsInUse reports whether any letter other than excludeApplicationID carries
// number.
func (s *NumberingService) IsInUse(ctx context.Context, number, excludeApplicationID string) (bool, error) {
	return numberTaken(s.db.WithContext(ctx), number, excludeApplicationID)
}

// numberTaken counts letters of every status, drafts included, because the
// unique index on letter_number spans all of them.
func numberTaken(tx *gorm.DB, number, excludeApplicationID string) (bool, error) {
	query := tx.Model(&models.Letter{}).Where("letter_number = ?", number)
	if excludeApplicationID != "" {
		query = query.Where("application_id <> ?", excludeApplicationID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check letter number: %w", err)
	}
	return count > 0, nil
}

// UpdateLetterNumber replaces the number of a letter with a manually
// entered one. The bucket counter is raised when the new number passes it
// and the verification record follows the new number.
func (s *NumberingService) UpdateLetterNumber(ctx context.Context, applicationID, number string) (*NumberResult, error) {
	number = strings.TrimSpace(number)
	parsed, err := s.ParseNumber(number)
	if err != nil {
		return nil, err
	}

	current, err := findLetter(s.db.WithContext(ctx), applicationID)
	if err != nil {
		return nil, err
	}
	letterType := s.typeOrDefault(current.LetterType)
	if err := s.seedSequence(s.db.WithContext(ctx), letterType, parsed.Year, parsed.Month); err != nil {
		return nil, err
	}

	var result NumberResult
	err = retryTransaction(ctx, s.db, s.log, func(tx *gorm.DB) error {
		letter, err := lockLetter(tx, applicationID)
		if err != nil {
			return err
		}

		inUse, err := numberTaken(tx, number, applicationID)
		if err != nil {
			return err
		}
		if inUse {
			return &ConflictError{Number: number}
		}

		seq, err := s.lockSequence(tx, letterType, parsed.Year, parsed.Month)
		if err != nil {
			return err
		}
		if parsed.Sequence > seq.LastSequence {
			if err := tx.Model(seq).Update("last_sequence", parsed.Sequence).Error; err != nil {
				return fmt.Errorf("failed to raise letter sequence: %w", err)
			}
		}

		if err := tx.Model(letter).Update("letter_number", number).Error; err != nil {
			if isDuplicateKey(err) {
				return &ConflictError{Number: number}
			}
			return fmt.Errorf("failed to update letter number: %w", err)
		}

		verification, err := s.verification.sync(tx, applicationID, number)
		if err != nil {
			return err
		}
		result = NumberResult{Number: number, Sequence: parsed.Sequence, Verification: verification}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Letter number updated manually",
		zap.String("application_id", applicationID),
		zap.String("letter_number", number))
	return &result, nil
}

type MonthCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

type YearSummary struct {
	LetterType string       `json:"letter_type"`
	Year       int          `json:"year"`
	Months     []MonthCount `json:"months"`
	Total      int          `json:"total"`
	LastNumber string       `json:"last_number,omitempty"`
}

// YearSummary counts issued letters per month of a year and names the
// latest number issued.
func (s *NumberingService) YearSummary(ctx context.Context, letterType string, year int) (*YearSummary, error) {
	letterType = s.typeOrDefault(letterType)
	if err := checkYear(year); err != nil {
		return nil, err
	}

	var numbers []string
	err := s.db.WithContext(ctx).Model(&models.Letter{}).
		Where("letter_type = ?", letterType).
		Where("status IN ?", []string{models.LetterStatusPublished, models.LetterStatusCompleted}).
		Where("letter_number LIKE ?", fmt.Sprintf("%%/%d", year)).
		Pluck("letter_number", &numbers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load issued letters: %w", err)
	}

	summary := &YearSummary{LetterType: letterType, Year: year, Months: make([]MonthCount, 12)}
	for i, roman := range romanMonths {
		summary.Months[i].Month = roman
	}

	var last ParsedNumber
	for _, number := range numbers {
		parsed, err := s.ParseNumber(number)
		if err != nil || parsed.Year != year {
			continue
		}
		summary.Months[parsed.Month-1].Count++
		summary.Total++
		if parsed.Month > last.Month || (parsed.Month == last.Month && parsed.Sequence > last.Sequence) {
			last = parsed
			summary.LastNumber = number
		}
	}
	return summary, nil
}

// seedLetter creates a draft letter for an application that has none yet.
func seedLetter(db *gorm.DB, applicationID, letterType string) error {
	letter := models.Letter{ApplicationID: applicationID, LetterType: letterType, Status: models.LetterStatusDraft}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&letter).Error; err != nil {
		return fmt.Errorf("failed to create letter: %w", err)
	}
	return nil
}

func findLetter(db *gorm.DB, applicationID string) (*models.Letter, error) {
	var letter models.Letter
	err := db.Where("application_id = ?", applicationID).First(&letter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("letter for application", applicationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load letter: %w", err)
	}
	return &letter, nil
}

func lockLetter(tx *gorm.DB, applicationID string) (*models.Letter, error) {
	return findLetter(tx.Clauses(clause.Locking{Strength: "UPDATE"}), applicationID)
}

const maxTxAttempts = 3

// retryTransaction runs fn in a transaction, starting over when the
// database aborts it for a deadlock or lock timeout.
func retryTransaction(ctx context.Context, db *gorm.DB, log *zap.Logger, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = db.WithContext(ctx).Transaction(fn)
		if err == nil || !isRetryableTxError(err) || attempt == maxTxAttempts {
			return err
		}
		log.Warn("Letter number transaction aborted, retrying",
			zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*25) * time.Millisecond):
		}
	}
	return err
}

func isRetryableTxError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"deadlock", "1213", "40001", "lock wait timeout", "database is locked", "database table is locked"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
