// Package crm provides the SQLite-backed contact roster that reply
// correlation runs against.
package crm

import (
	"database/sql"
	"embed"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/seanmck/mailcorr/internal/correlate"
	"github.com/seanmck/mailcorr/internal/fileutil"
)

//go:embed schema.sql
var schemaFS embed.FS

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// Contact is one row of the contact roster.
type Contact struct {
	ID             int64
	Email          string
	FirstName      string
	LastName       string
	CSMName        string
	CSMEmail       string
	EPName         string
	EPEmail        string
	LastEmailCheck *time.Time
}

// Target maps the contact to a correlation target.
func (c Contact) Target() correlate.Target {
	return correlate.Target{
		ContactEmail: c.Email,
		ContactFirst: c.FirstName,
		ContactLast:  c.LastName,
		CSMEmail:     c.CSMEmail,
		CSMName:      c.CSMName,
		EPEmail:      c.EPEmail,
		EPName:       c.EPName,
	}
}

// Store wraps the contacts database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens or creates the contacts database at the given path.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := fileutil.SecureMkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + defaultSQLiteParams
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema creates the contacts table if it does not exist.
func (s *Store) InitSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read schema.sql: %w", err)
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("execute schema.sql: %w", err)
	}
	return nil
}

const contactColumns = "id, email, first_name, last_name, csm_name, csm_email, ep_name, ep_email, last_email_check"

func scanContact(row interface{ Scan(...any) error }) (Contact, error) {
	var (
		c         Contact
		lastCheck sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName,
		&c.CSMName, &c.CSMEmail, &c.EPName, &c.EPEmail, &lastCheck); err != nil {
		return Contact{}, err
	}
	if lastCheck.Valid {
		if t, err := time.Parse(time.RFC3339, lastCheck.String); err == nil {
			t = t.UTC()
			c.LastEmailCheck = &t
		}
	}
	return c, nil
}

// ListContacts returns all contacts ordered by email.
func (s *Store) ListContacts() ([]Contact, error) {
	rows, err := s.db.Query("SELECT " + contactColumns + " FROM contacts ORDER BY email")
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// GetContact looks up a contact by email. Returns sql.ErrNoRows if absent.
func (s *Store) GetContact(email string) (Contact, error) {
	row := s.db.QueryRow("SELECT "+contactColumns+" FROM contacts WHERE email = ?", email)
	c, err := scanContact(row)
	if err != nil {
		return Contact{}, fmt.Errorf("get contact %s: %w", email, err)
	}
	return c, nil
}

// UpsertContact inserts or updates a contact keyed by email and returns its ID.
func (s *Store) UpsertContact(c Contact) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO contacts (email, first_name, last_name, csm_name, csm_email, ep_name, ep_email)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			csm_name = excluded.csm_name,
			csm_email = excluded.csm_email,
			ep_name = excluded.ep_name,
			ep_email = excluded.ep_email`,
		c.Email, c.FirstName, c.LastName, c.CSMName, c.CSMEmail, c.EPName, c.EPEmail)
	if err != nil {
		return 0, fmt.Errorf("upsert contact %s: %w", c.Email, err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		return id, nil
	}
	existing, err := s.GetContact(c.Email)
	if err != nil {
		return 0, err
	}
	return existing.ID, nil
}

// TouchEmailCheck records when reply correlation last ran for a contact.
func (s *Store) TouchEmailCheck(id int64, at time.Time) error {
	_, err := s.db.Exec("UPDATE contacts SET last_email_check = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touch email check: %w", err)
	}
	return nil
}
