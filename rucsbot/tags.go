package rucsbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// tagSuggestionLimit is the maximum number of "did you mean" candidates
	// returned on a missed lookup.
	tagSuggestionLimit = 3

	// tagSearchLimit caps `/tag search` results.
	tagSearchLimit = 100

	// tagSimilarityThreshold matches the default pg_trgm `%` operator
	// threshold, so the sqlite fallback ranks the same way postgres does.
	tagSimilarityThreshold = 0.3
)

var (
	// ErrTagNotFound indicates no tag with the given name exists in the
	// guild, and no similar names were found.
	ErrTagNotFound = errors.New("tag not found")

	// ErrTagExists indicates a tag with the given (case-folded) name already
	// exists in the guild.
	ErrTagExists = errors.New("a tag with that name already exists")

	// ErrTagForbidden indicates the tag doesn't exist, or the caller doesn't
	// own it and has no override. The two cases are deliberately
	// indistinguishable.
	ErrTagForbidden = errors.New("tag doesn't exist, or you don't own it")

	// ErrSameTagName indicates a rename where old and new names are
	// case-insensitively equal.
	ErrSameTagName = errors.New("old and new tag names are the same")

	// ErrQueryTooShort indicates a search query below the minimum length.
	// Enforced by the command surface before the repository is reached.
	ErrQueryTooShort = fmt.Errorf(
		"search queries must be at least %d characters",
		tagSearchMinQueryLength,
	)
)

// TagSuggestionError is returned by a missed lookup when similar tag names
// exist in the guild, carrying up to tagSuggestionLimit candidates ordered
// by descending similarity.
type TagSuggestionError struct {
	Query      string
	Candidates []string
}

func (e *TagSuggestionError) Error() string {
	return fmt.Sprintf(
		"tag %q not found - did you mean: %s",
		e.Query,
		strings.Join(e.Candidates, ", "),
	)
}

// StorageError wraps an unexpected database failure. The wrapped error is
// logged verbatim; users only ever see a generic message.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("tag storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Tag is a named text snippet scoped to a single guild.
//
// NameLower is a case-folded copy of Name. The composite unique index on
// (guild_id, name_lower) makes concurrent creates of the same name a
// constraint violation instead of a duplicate row: the second insert fails
// and is reported as ErrTagExists.
type Tag struct {
	ModelUintID
	Name      string    `json:"name" gorm:"not null"`
	NameLower string    `json:"-" gorm:"not null;uniqueIndex:idx_tags_guild_name_lower"`
	Content   string    `json:"content" gorm:"not null"`
	OwnerID   string    `json:"owner_id" gorm:"index;not null"`
	GuildID   string    `json:"guild_id" gorm:"not null;uniqueIndex:idx_tags_guild_name_lower"`
	CreatedAt time.Time `json:"created_at"`
}

func (t Tag) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(t.ID)),
		slog.String("name", t.Name),
		slog.String("owner_id", t.OwnerID),
		slog.String("guild_id", t.GuildID),
	)
}

// TagListEntry is a (name, id) pair returned by List and Search, in the
// order the query ranked them.
type TagListEntry struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

func (e TagListEntry) String() string {
	return fmt.Sprintf("%s (ID: %d)", e.Name, e.ID)
}

// foldTagName normalizes a tag name for matching: trimmed and lowercased.
func foldTagName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// TagRepo owns all tag persistence. Every operation is scoped to a guild;
// no query crosses guild boundaries.
type TagRepo struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewTagRepo(db *gorm.DB, log *slog.Logger) *TagRepo {
	if log == nil {
		log = slog.Default()
	}
	return &TagRepo{
		db:     db,
		logger: log.With(loggerNameKey, "tag_repo"),
	}
}

func (r *TagRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

// usePostgresTrigram reports whether similarity queries can be pushed down
// to pg_trgm.
func (r *TagRepo) usePostgresTrigram() bool {
	return r.db.Dialector.Name() == "postgres"
}

// Get looks up a tag by exact case-folded name. On a miss, it runs a
// similarity search over the guild's tags: if candidates exist, the error
// is a *TagSuggestionError carrying them; otherwise ErrTagNotFound.
func (r *TagRepo) Get(ctx context.Context, guildID string, name string) (*Tag, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	folded := foldTagName(name)
	var tag Tag
	err := r.db.WithContext(ctx).Where(
		"guild_id = ? AND name_lower = ?", guildID, folded,
	).Take(&tag).Error
	if err == nil {
		return &tag, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &StorageError{Op: "get", Err: err}
	}

	candidates, err := r.similarNames(ctx, guildID, folded, tagSuggestionLimit)
	if err != nil {
		return nil, &StorageError{Op: "get suggestions", Err: err}
	}
	if len(candidates) == 0 {
		return nil, ErrTagNotFound
	}
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	return nil, &TagSuggestionError{Query: name, Candidates: names}
}

// Create inserts a new tag owned by ownerID. Uniqueness of the case-folded
// name within the guild is enforced by the database constraint, so two
// concurrent creates of the same name can't both succeed.
func (r *TagRepo) Create(
	ctx context.Context,
	guildID string,
	ownerID string,
	name string,
	content string,
) (*Tag, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tag := &Tag{
		Name:      strings.TrimSpace(name),
		NameLower: foldTagName(name),
		Content:   content,
		OwnerID:   ownerID,
		GuildID:   guildID,
	}
	err := r.db.WithContext(ctx).Create(tag).Error
	switch {
	case err == nil:
		r.logger.InfoContext(ctx, "created tag", "tag", tag)
		return tag, nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return nil, ErrTagExists
	default:
		return nil, &StorageError{Op: "create", Err: err}
	}
}

// Edit replaces a tag's content. Only the owner may edit; unlike Remove
// and Rename there is no moderator override. Zero rows affected means the
// tag doesn't exist in this guild, or the caller doesn't own it - reported
// identically as ErrTagForbidden.
func (r *TagRepo) Edit(
	ctx context.Context,
	guildID string,
	ownerID string,
	name string,
	content string,
) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rv := r.db.WithContext(ctx).Model(&Tag{}).Where(
		"guild_id = ? AND name_lower = ? AND owner_id = ?",
		guildID, foldTagName(name), ownerID,
	).Update("content", content)
	if rv.Error != nil {
		return &StorageError{Op: "edit", Err: rv.Error}
	}
	if rv.RowsAffected == 0 {
		return ErrTagForbidden
	}
	return nil
}

// Remove deletes a tag and returns its stored name for confirmation.
// With override set, ownership isn't checked; otherwise only the owner's
// row matches. A single atomic statement - no lookup round-trip.
func (r *TagRepo) Remove(
	ctx context.Context,
	guildID string,
	requesterID string,
	override bool,
	name string,
) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	q := r.db.WithContext(ctx).Clauses(
		clause.Returning{Columns: []clause.Column{{Name: "name"}}},
	).Where("guild_id = ? AND name_lower = ?", guildID, foldTagName(name))
	if !override {
		q = q.Where("owner_id = ?", requesterID)
	}

	var deleted []Tag
	rv := q.Delete(&deleted)
	if rv.Error != nil {
		return "", &StorageError{Op: "remove", Err: rv.Error}
	}
	if rv.RowsAffected == 0 || len(deleted) == 0 {
		return "", ErrTagForbidden
	}
	return deleted[0].Name, nil
}

// Rename changes a tag's name under the same ownership rule as Remove.
// The target name must be unused in the guild (case-insensitive); the
// unique index catches conflicts atomically, including ones racing with
// a concurrent create.
func (r *TagRepo) Rename(
	ctx context.Context,
	guildID string,
	requesterID string,
	override bool,
	oldName string,
	newName string,
) error {
	oldFolded := foldTagName(oldName)
	newFolded := foldTagName(newName)
	if oldFolded == newFolded {
		return ErrSameTagName
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	q := r.db.WithContext(ctx).Where(
		"guild_id = ? AND name_lower = ?", guildID, oldFolded,
	)
	if !override {
		q = q.Where("owner_id = ?", requesterID)
	}
	var tag Tag
	if err := q.Take(&tag).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTagForbidden
		}
		return &StorageError{Op: "rename lookup", Err: err}
	}

	err := r.db.WithContext(ctx).Model(&tag).Updates(
		map[string]any{
			"name":       strings.TrimSpace(newName),
			"name_lower": newFolded,
		},
	).Error
	switch {
	case err == nil:
		r.logger.InfoContext(
			ctx, "renamed tag",
			"tag", tag, "old_name", oldName,
		)
		return nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrTagExists
	default:
		return &StorageError{Op: "rename", Err: err}
	}
}

// List returns all tags in the guild ordered by name ascending, optionally
// filtered to a single owner. Pagination is the caller's concern.
func (r *TagRepo) List(
	ctx context.Context,
	guildID string,
	ownerID string,
) ([]TagListEntry, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	q := r.db.WithContext(ctx).Model(&Tag{}).Where("guild_id = ?", guildID)
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}

	var entries []TagListEntry
	if err := q.Order("name ASC").Find(&entries).Error; err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return entries, nil
}

// Search returns up to tagSearchLimit tags ranked by descending similarity
// to the query. Queries shorter than tagSearchMinQueryLength are rejected.
func (r *TagRepo) Search(
	ctx context.Context,
	guildID string,
	query string,
) ([]TagListEntry, error) {
	folded := foldTagName(query)
	if utf8.RuneCountInString(folded) < tagSearchMinQueryLength {
		return nil, ErrQueryTooShort
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	results, err := r.similarNames(ctx, guildID, folded, tagSearchLimit)
	if err != nil {
		return nil, &StorageError{Op: "search", Err: err}
	}
	return results, nil
}

// Info returns the full tag row for an exact case-folded name match.
func (r *TagRepo) Info(ctx context.Context, guildID string, name string) (*Tag, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var tag Tag
	err := r.db.WithContext(ctx).Where(
		"guild_id = ? AND name_lower = ?", guildID, foldTagName(name),
	).Take(&tag).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTagNotFound
		}
		return nil, &StorageError{Op: "info", Err: err}
	}
	return &tag, nil
}

// GuildTagCount holds the number of tags stored for one guild.
type GuildTagCount struct {
	GuildID string `gorm:"column:guild_id" json:"guild_id"`
	Count   int64  `gorm:"column:tag_count" json:"tag_count"`
}

// Stats returns per-guild tag counts, largest first.
func (r *TagRepo) Stats(ctx context.Context) ([]GuildTagCount, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var counts []GuildTagCount
	err := r.db.WithContext(ctx).Model(&Tag{}).
		Select("guild_id, COUNT(*) AS tag_count").
		Group("guild_id").
		Order("tag_count DESC").
		Find(&counts).Error
	if err != nil {
		return nil, &StorageError{Op: "stats", Err: err}
	}
	return counts, nil
}

// similarNames returns tags in the guild whose names are similar to the
// query, most similar first. Postgres uses pg_trgm; sqlite ranks in-process
// with the same trigram algorithm and threshold.
func (r *TagRepo) similarNames(
	ctx context.Context,
	guildID string,
	query string,
	limit int,
) ([]TagListEntry, error) {
	if r.usePostgresTrigram() {
		var entries []TagListEntry
		err := r.db.WithContext(ctx).Raw(
			`SELECT name, id
			 FROM tags
			 WHERE guild_id = ? AND name % ?
			 ORDER BY similarity(name, ?) DESC
			 LIMIT ?`,
			guildID, query, query, limit,
		).Scan(&entries).Error
		return entries, err
	}

	var tags []TagListEntry
	err := r.db.WithContext(ctx).Model(&Tag{}).Where(
		"guild_id = ?", guildID,
	).Find(&tags).Error
	if err != nil {
		return nil, err
	}

	type scored struct {
		entry TagListEntry
		score float64
	}
	ranked := make([]scored, 0, len(tags))
	for _, t := range tags {
		score := tagSimilarity(t.Name, query)
		if score >= tagSimilarityThreshold {
			ranked = append(ranked, scored{entry: t, score: score})
		}
	}
	sort.SliceStable(
		ranked, func(i, j int) bool {
			if ranked[i].score != ranked[j].score {
				return ranked[i].score > ranked[j].score
			}
			return ranked[i].entry.Name < ranked[j].entry.Name
		},
	)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	entries := make([]TagListEntry, len(ranked))
	for i, s := range ranked {
		entries[i] = s.entry
	}
	return entries, nil
}

// tagSimilarity computes trigram similarity between two strings the way
// pg_trgm does: each string is lowercased, padded with two leading spaces
// and one trailing space, and broken into three-character windows; the
// score is shared trigrams over total distinct trigrams.
func tagSimilarity(a, b string) float64 {
	ta := trigramSet(a)
	tb := trigramSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

func trigramSet(s string) map[string]struct{} {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	set := map[string]struct{}{}
	// pg_trgm treats each word separately, with "  word " padding
	for _, word := range strings.Fields(s) {
		padded := []rune("  " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
	}
	return set
}
