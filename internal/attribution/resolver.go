// Package attribution resolves usage records to canonical users and sums
// spend per user and day. Services without identity contribute nothing here;
// their credits still flow through the rollup unattributed.
package attribution

import (
	"context"
	"sort"
	"strings"
	"time"

	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Row is one attributed spend bucket: a canonical user's usage of one
// service, feature and model on one day.
type Row struct {
	UsageDate   time.Time
	UserKey     string
	ServiceType usagedomain.ServiceType
	FeatureName string
	ModelName   string
	Credits     float64
	Operations  int64
}

// Resolver turns raw usage records into attributed spend rows. Analyst
// records carry only a query reference, so the resolver joins them against
// the query log before attribution. All user names pass through the user
// directory so two spellings of the same principal collapse into one key.
type Resolver struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewResolver(db *gorm.DB, log *zap.Logger) *Resolver {
	return &Resolver{db: db, log: log.Named("attribution.resolver")}
}

// Result carries the attributed rows plus the credits the resolver could
// not attribute, split by why.
type Result struct {
	Rows []Row

	// UnattributedCredits counts credits from aggregate-only sources that
	// never had identity to begin with.
	UnattributedCredits float64
	// UnmatchedCredits counts credits whose query reference found no query
	// log entry. These are expected to shrink as the query log catches up.
	UnmatchedCredits float64
	UnmatchedQueries int
}

func (r *Resolver) Resolve(ctx context.Context, records []usagedomain.Record) (Result, error) {
	var res Result

	queryRefs := make([]string, 0)
	seenRefs := make(map[string]struct{})
	for _, rec := range records {
		if rec.UserKey == "" && rec.QueryRef != "" {
			if _, ok := seenRefs[rec.QueryRef]; !ok {
				seenRefs[rec.QueryRef] = struct{}{}
				queryRefs = append(queryRefs, rec.QueryRef)
			}
		}
	}

	queryUsers, err := r.lookupQueryLog(ctx, queryRefs)
	if err != nil {
		return Result{}, err
	}

	type bucketKey struct {
		usageDate   time.Time
		userName    string
		serviceType usagedomain.ServiceType
		featureName string
		modelName   string
	}
	buckets := make(map[bucketKey]*Row)
	userNames := make([]string, 0)
	seenUsers := make(map[string]struct{})

	for _, rec := range records {
		userName := rec.UserKey
		if userName == "" && rec.QueryRef != "" {
			resolved, ok := queryUsers[rec.QueryRef]
			if !ok {
				res.UnmatchedCredits += rec.Credits
				res.UnmatchedQueries++
				continue
			}
			userName = resolved
		}
		if userName == "" {
			res.UnattributedCredits += rec.Credits
			continue
		}

		key := bucketKey{
			usageDate:   rec.UsageDate(),
			userName:    userName,
			serviceType: rec.ServiceType,
			featureName: rec.FeatureName,
			modelName:   rec.ModelName,
		}
		b, ok := buckets[key]
		if !ok {
			b = &Row{
				UsageDate:   key.usageDate,
				UserKey:     userName,
				ServiceType: key.serviceType,
				FeatureName: key.featureName,
				ModelName:   key.modelName,
			}
			buckets[key] = b
		}
		b.Credits += rec.Credits
		b.Operations += rec.Operations

		if _, ok := seenUsers[userName]; !ok {
			seenUsers[userName] = struct{}{}
			userNames = append(userNames, userName)
		}
	}

	canonical, err := r.lookupDirectory(ctx, userNames)
	if err != nil {
		return Result{}, err
	}

	// Canonicalization can merge buckets that differ only in spelling.
	merged := make(map[bucketKey]*Row, len(buckets))
	for key, b := range buckets {
		if canon, ok := canonical[b.UserKey]; ok && canon != "" {
			key.userName = canon
			b.UserKey = canon
		}
		if existing, ok := merged[key]; ok {
			existing.Credits += b.Credits
			existing.Operations += b.Operations
			continue
		}
		merged[key] = b
	}

	rows := make([]Row, 0, len(merged))
	for _, b := range merged {
		rows = append(rows, *b)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.UsageDate.Equal(b.UsageDate) {
			return a.UsageDate.Before(b.UsageDate)
		}
		if a.UserKey != b.UserKey {
			return a.UserKey < b.UserKey
		}
		if a.ServiceType != b.ServiceType {
			return a.ServiceType < b.ServiceType
		}
		if a.FeatureName != b.FeatureName {
			return a.FeatureName < b.FeatureName
		}
		return a.ModelName < b.ModelName
	})
	res.Rows = rows

	if res.UnmatchedQueries > 0 {
		r.log.Warn("query log misses",
			zap.Int("unmatched_queries", res.UnmatchedQueries),
			zap.Float64("unmatched_credits", res.UnmatchedCredits),
		)
	}
	return res, nil
}

type queryLogRow struct {
	QueryID  string `gorm:"column:query_id"`
	UserName string `gorm:"column:user_name"`
}

func (r *Resolver) lookupQueryLog(ctx context.Context, refs []string) (map[string]string, error) {
	out := make(map[string]string, len(refs))
	if len(refs) == 0 {
		return out, nil
	}
	var rows []queryLogRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT query_id, user_name FROM ai_query_log WHERE query_id IN ?`,
		refs,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		name := strings.TrimSpace(row.UserName)
		if name == "" {
			continue
		}
		out[row.QueryID] = name
	}
	return out, nil
}

type directoryRow struct {
	UserName      string `gorm:"column:user_name"`
	CanonicalName string `gorm:"column:canonical_name"`
}

func (r *Resolver) lookupDirectory(ctx context.Context, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	if len(names) == 0 {
		return out, nil
	}
	var rows []directoryRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT user_name, canonical_name FROM user_directory WHERE user_name IN ?`,
		names,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		canon := strings.TrimSpace(row.CanonicalName)
		if canon == "" {
			continue
		}
		out[row.UserName] = canon
	}
	return out, nil
}
