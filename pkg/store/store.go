package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agentctl/controlplane/internal/apperr"
	"github.com/agentctl/controlplane/internal/db"
)

// Store persists users and projects. Each row carries a JSONB "data" column
// holding the full aggregate (a project's embedded sessions/settings/
// extensions included) plus a handful of indexed scalar columns (user_id,
// status); the list query C4 and C7 issue filters by user.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a metadata Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// --- users ---

type userDoc struct {
	Name           string `json:"name"`
	GlobalTokenSet bool   `json:"global_token_set"`
	GlobalToken    string `json:"global_token,omitempty"`
	APIKeySet      bool   `json:"api_key_set"`
	APIKey         string `json:"api_key,omitempty"`
	CallerKeyHash  string `json:"caller_key_hash,omitempty"`
}

func (u *User) toDoc() userDoc {
	return userDoc{
		Name:           u.Name,
		GlobalTokenSet: u.GlobalTokenSet,
		GlobalToken:    u.GlobalToken,
		APIKeySet:      u.APIKeySet,
		APIKey:         u.APIKey,
		CallerKeyHash:  u.CallerKeyHash,
	}
}

func scanUser(id string, createdAt, updatedAt time.Time, raw []byte) (User, error) {
	var d userDoc
	if err := json.Unmarshal(raw, &d); err != nil {
		return User{}, fmt.Errorf("unmarshaling user document: %w", err)
	}
	return User{
		ID:             id,
		Name:           d.Name,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
		GlobalTokenSet: d.GlobalTokenSet,
		GlobalToken:    d.GlobalToken,
		APIKeySet:      d.APIKeySet,
		APIKey:         d.APIKey,
		CallerKeyHash:  d.CallerKeyHash,
	}, nil
}

// GetUser returns a single user by id.
func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT id, created_at, updated_at, data FROM users WHERE id = $1`, id)

	var (
		uid                  string
		createdAt, updatedAt time.Time
		raw                  []byte
	)
	if err := row.Scan(&uid, &createdAt, &updatedAt, &raw); err != nil {
		if err == pgx.ErrNoRows {
			return User{}, apperr.New(apperr.NotFound, "user not found")
		}
		return User{}, apperr.Wrap(apperr.StorageUnavailable, "getting user", err)
	}
	return scanUser(uid, createdAt, updatedAt, raw)
}

// ListUsers returns every user, ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT id, created_at, updated_at, data FROM users ORDER BY id`)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "listing users", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var (
			uid                  string
			createdAt, updatedAt time.Time
			raw                  []byte
		)
		if err := rows.Scan(&uid, &createdAt, &updatedAt, &raw); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		u, err := scanUser(uid, createdAt, updatedAt, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return out, nil
}

// UpsertUser creates the user if absent, otherwise replaces its document.
// Per §3, users are "created on first-seen or by an explicit endpoint" and
// are write-through, so upsert is the only write path.
func (s *Store) UpsertUser(ctx context.Context, u User) (User, error) {
	now := nowFunc()
	raw, err := json.Marshal(u.toDoc())
	if err != nil {
		return User{}, fmt.Errorf("marshaling user document: %w", err)
	}

	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO users (id, created_at, updated_at, data)
		VALUES ($1, $2, $2, $3)
		ON CONFLICT (id) DO UPDATE
			SET data = $3, updated_at = $2
		RETURNING id, created_at, updated_at, data`,
		u.ID, now, raw)

	var (
		uid                  string
		createdAt, updatedAt time.Time
		resultRaw            []byte
	)
	if err := row.Scan(&uid, &createdAt, &updatedAt, &resultRaw); err != nil {
		return User{}, apperr.Wrap(apperr.StorageUnavailable, "upserting user", err)
	}
	return scanUser(uid, createdAt, updatedAt, resultRaw)
}

// ResolveAPIKey implements auth.KeyResolver: it maps a hashed caller API key
// to the user_id it authenticates as.
func (s *Store) ResolveAPIKey(ctx context.Context, hash string) (string, bool, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT id FROM users WHERE data->>'caller_key_hash' = $1`, hash)

	var userID string
	if err := row.Scan(&userID); err != nil {
		if err == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("resolving api key: %w", err)
	}
	return userID, true, nil
}

// --- projects ---

type projectDoc struct {
	Name            string             `json:"name"`
	Endpoint        string             `json:"endpoint,omitempty"`
	RepoURL         string             `json:"repo_url,omitempty"`
	HasRepository   bool               `json:"has_repository"`
	LastCloneError  string             `json:"last_clone_error,omitempty"`
	GithubKeySet    bool               `json:"github_key_set"`
	GithubKeySource GithubKeySource    `json:"github_key_source,omitempty"`
	ProjectToken    string             `json:"project_token,omitempty"`
	APIKey          string             `json:"api_key,omitempty"`
	Sessions        []Session          `json:"sessions"`
	Settings        map[string]Setting `json:"settings"`
	Extensions      []Extension        `json:"extensions"`
	LastProbeError  string             `json:"last_probe_error,omitempty"`
}

func (p *Project) toDoc() projectDoc {
	return projectDoc{
		Name:            p.Name,
		Endpoint:        p.Endpoint,
		RepoURL:         p.RepoURL,
		HasRepository:   p.HasRepository,
		LastCloneError:  p.LastCloneError,
		GithubKeySet:    p.GithubKeySet,
		GithubKeySource: p.GithubKeySource,
		ProjectToken:    p.ProjectToken,
		APIKey:          p.APIKey,
		Sessions:        p.Sessions,
		Settings:        p.Settings,
		Extensions:      p.Extensions,
		LastProbeError:  p.LastProbeError,
	}
}

func scanProject(id, userID string, status ProjectStatus, createdAt, updatedAt time.Time, raw []byte) (Project, error) {
	var d projectDoc
	if err := json.Unmarshal(raw, &d); err != nil {
		return Project{}, fmt.Errorf("unmarshaling project document: %w", err)
	}
	if d.Settings == nil {
		d.Settings = map[string]Setting{}
	}
	return Project{
		ID:              id,
		UserID:          userID,
		Name:            d.Name,
		Status:          status,
		Endpoint:        d.Endpoint,
		RepoURL:         d.RepoURL,
		HasRepository:   d.HasRepository,
		LastCloneError:  d.LastCloneError,
		GithubKeySet:    d.GithubKeySet,
		GithubKeySource: d.GithubKeySource,
		ProjectToken:    d.ProjectToken,
		APIKey:          d.APIKey,
		Sessions:        d.Sessions,
		Settings:        d.Settings,
		Extensions:      d.Extensions,
		LastProbeError:  d.LastProbeError,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}, nil
}

const projectColumns = `id, user_id, status, created_at, updated_at, data`

func scanProjectRow(row pgx.Row) (Project, error) {
	var (
		id, userID           string
		status               ProjectStatus
		createdAt, updatedAt time.Time
		raw                  []byte
	)
	if err := row.Scan(&id, &userID, &status, &createdAt, &updatedAt, &raw); err != nil {
		return Project{}, err
	}
	return scanProject(id, userID, status, createdAt, updatedAt, raw)
}

// ListProjectsByUser returns every project owned by userID, ordered by
// creation time. Projects are weakly referenced from User (listed by query,
// not embedded), per §3 Ownership.
func (s *Store) ListProjectsByUser(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "listing projects", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var (
			id, uid              string
			status               ProjectStatus
			createdAt, updatedAt time.Time
			raw                  []byte
		)
		if err := rows.Scan(&id, &uid, &status, &createdAt, &updatedAt, &raw); err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}
		p, err := scanProject(id, uid, status, createdAt, updatedAt, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating project rows: %w", err)
	}
	return out, nil
}

// GetProject returns a single project by id, regardless of owning user; C7
// enforces the (user, project) path match separately.
func (s *Store) GetProject(ctx context.Context, id string) (Project, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	p, err := scanProjectRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Project{}, apperr.New(apperr.NotFound, "project not found")
		}
		return Project{}, apperr.Wrap(apperr.StorageUnavailable, "getting project", err)
	}
	return p, nil
}

// CreateProject inserts a complete project record atomically: the insert
// either succeeds in full or the row is never visible, satisfying §4.1's
// create_project contract.
func (s *Store) CreateProject(ctx context.Context, p Project) (Project, error) {
	now := nowFunc()
	if p.Settings == nil {
		p.Settings = map[string]Setting{}
	}
	raw, err := json.Marshal(p.toDoc())
	if err != nil {
		return Project{}, fmt.Errorf("marshaling project document: %w", err)
	}

	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO projects (id, user_id, status, created_at, updated_at, data)
		VALUES ($1, $2, $3, $4, $4, $5)
		RETURNING `+projectColumns,
		p.ID, p.UserID, p.Status, now, raw)

	out, err := scanProjectRow(row)
	if err != nil {
		return Project{}, apperr.Wrap(apperr.StorageUnavailable, "creating project", err)
	}
	return out, nil
}

// replaceProject rewrites a project's full document and scalar columns.
// Every mutator in this file funnels through here so status/updated_at stay
// consistent with the embedded document in a single statement.
func (s *Store) replaceProject(ctx context.Context, p Project) (Project, error) {
	now := nowFunc()
	raw, err := json.Marshal(p.toDoc())
	if err != nil {
		return Project{}, fmt.Errorf("marshaling project document: %w", err)
	}

	row := s.dbtx.QueryRow(ctx, `
		UPDATE projects
		SET status = $2, updated_at = $3, data = $4
		WHERE id = $1
		RETURNING `+projectColumns,
		p.ID, p.Status, now, raw)

	out, err := scanProjectRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Project{}, apperr.New(apperr.NotFound, "project not found")
		}
		return Project{}, apperr.Wrap(apperr.StorageUnavailable, "updating project", err)
	}
	return out, nil
}

// AllowedProjectFields are the field names update_project_fields accepts.
// Unknown fields are rejected per §4.1.
var AllowedProjectFields = map[string]bool{
	"name":              true,
	"status":            true,
	"endpoint":          true,
	"repo_url":          true,
	"has_repository":    true,
	"last_clone_error":  true,
	"github_key_set":    true,
	"github_key_source": true,
	"project_token":     true,
	"api_key":           true,
	"last_probe_error":  true,
}

// UpdateProjectFields applies a partial update by field name. Unknown field
// names are rejected with InvalidArgument.
func (s *Store) UpdateProjectFields(ctx context.Context, id string, fields map[string]any) (Project, error) {
	for k := range fields {
		if !AllowedProjectFields[k] {
			return Project{}, apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown project field %q", k))
		}
	}

	p, err := s.GetProject(ctx, id)
	if err != nil {
		return Project{}, err
	}

	for k, v := range fields {
		switch k {
		case "name":
			p.Name, _ = v.(string)
		case "status":
			switch sv := v.(type) {
			case ProjectStatus:
				p.Status = sv
			case string:
				p.Status = ProjectStatus(sv)
			}
		case "endpoint":
			p.Endpoint, _ = v.(string)
		case "repo_url":
			p.RepoURL, _ = v.(string)
		case "has_repository":
			p.HasRepository, _ = v.(bool)
		case "last_clone_error":
			p.LastCloneError, _ = v.(string)
		case "github_key_set":
			p.GithubKeySet, _ = v.(bool)
		case "github_key_source":
			switch sv := v.(type) {
			case GithubKeySource:
				p.GithubKeySource = sv
			case string:
				p.GithubKeySource = GithubKeySource(sv)
			}
		case "project_token":
			p.ProjectToken, _ = v.(string)
		case "api_key":
			p.APIKey, _ = v.(string)
		case "last_probe_error":
			p.LastProbeError, _ = v.(string)
		}
	}

	return s.replaceProject(ctx, p)
}

// DeleteProject removes the record unconditionally. Callers (C4) must
// ensure cluster cleanup first; this store does not reach into the cluster.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "deleting project", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "project not found")
	}
	return nil
}

// --- embedded list/map mutators ---

// PutSession idempotently upserts a session summary by session_id.
func (s *Store) PutSession(ctx context.Context, projectID string, sess Session) (Project, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	replaced := false
	for i := range p.Sessions {
		if p.Sessions[i].SessionID == sess.SessionID {
			p.Sessions[i] = sess
			replaced = true
			break
		}
	}
	if !replaced {
		p.Sessions = append(p.Sessions, sess)
	}
	return s.replaceProject(ctx, p)
}

// RemoveSession idempotently removes a session by session_id.
func (s *Store) RemoveSession(ctx context.Context, projectID, sessionID string) (Project, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	out := p.Sessions[:0]
	for _, sess := range p.Sessions {
		if sess.SessionID != sessionID {
			out = append(out, sess)
		}
	}
	p.Sessions = out
	return s.replaceProject(ctx, p)
}

// PutSettings applies a bulk set of setting changes, rejecting unknown keys
// against the recognized set (fixed at compile time; see pkg/settings).
func (s *Store) PutSettings(ctx context.Context, projectID string, changes map[string]Setting, recognized map[string]SettingType) (Project, error) {
	for k := range changes {
		if _, ok := recognized[k]; !ok {
			return Project{}, apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown setting %q", k))
		}
	}

	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	if p.Settings == nil {
		p.Settings = map[string]Setting{}
	}
	for k, v := range changes {
		p.Settings[k] = v
	}
	return s.replaceProject(ctx, p)
}

// DeleteSetting removes a single setting key.
func (s *Store) DeleteSetting(ctx context.Context, projectID, key string) (Project, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	delete(p.Settings, key)
	return s.replaceProject(ctx, p)
}

// PutExtension idempotently upserts an extension by name.
func (s *Store) PutExtension(ctx context.Context, projectID string, ext Extension) (Project, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	replaced := false
	for i := range p.Extensions {
		if p.Extensions[i].Name == ext.Name {
			p.Extensions[i] = ext
			replaced = true
			break
		}
	}
	if !replaced {
		p.Extensions = append(p.Extensions, ext)
	}
	return s.replaceProject(ctx, p)
}

// ToggleExtension flips an extension's enabled flag by name.
func (s *Store) ToggleExtension(ctx context.Context, projectID, name string, enabled bool) (Project, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	found := false
	for i := range p.Extensions {
		if p.Extensions[i].Name == name {
			p.Extensions[i].Enabled = enabled
			found = true
			break
		}
	}
	if !found {
		return Project{}, apperr.New(apperr.NotFound, "extension not found")
	}
	return s.replaceProject(ctx, p)
}

// RemoveExtension removes an extension by name.
func (s *Store) RemoveExtension(ctx context.Context, projectID, name string) (Project, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	out := p.Extensions[:0]
	for _, ext := range p.Extensions {
		if ext.Name != name {
			out = append(out, ext)
		}
	}
	p.Extensions = out
	return s.replaceProject(ctx, p)
}

// nowFunc supplies the UTC timestamp written to created_at/updated_at; it is
// a package variable so it can be replaced for deterministic timestamps.
var nowFunc = func() time.Time { return time.Now().UTC() }
