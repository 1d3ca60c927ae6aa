package attribution

import (
	"sort"

	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
)

// UserSummary totals one user's spend across the window. Shape of the
// per-user attribution view.
type UserSummary struct {
	UserKey    string
	Credits    float64
	Operations int64
	ActiveDays int
	Services   []usagedomain.ServiceType
}

// UserFeatureSummary totals one user's spend on one service and feature.
type UserFeatureSummary struct {
	UserKey     string
	ServiceType usagedomain.ServiceType
	FeatureName string
	Credits     float64
	Operations  int64
}

// SummarizeByUser folds attributed rows into one summary per user, ordered
// by credits descending.
func SummarizeByUser(rows []Row) []UserSummary {
	type acc struct {
		credits    float64
		operations int64
		days       map[string]struct{}
		services   map[usagedomain.ServiceType]struct{}
	}
	byUser := make(map[string]*acc)
	for _, row := range rows {
		a, ok := byUser[row.UserKey]
		if !ok {
			a = &acc{
				days:     make(map[string]struct{}),
				services: make(map[usagedomain.ServiceType]struct{}),
			}
			byUser[row.UserKey] = a
		}
		a.credits += row.Credits
		a.operations += row.Operations
		a.days[row.UsageDate.Format("2006-01-02")] = struct{}{}
		a.services[row.ServiceType] = struct{}{}
	}

	out := make([]UserSummary, 0, len(byUser))
	for user, a := range byUser {
		services := make([]usagedomain.ServiceType, 0, len(a.services))
		for svc := range a.services {
			services = append(services, svc)
		}
		sort.Slice(services, func(i, j int) bool { return services[i] < services[j] })
		out = append(out, UserSummary{
			UserKey:    user,
			Credits:    a.credits,
			Operations: a.operations,
			ActiveDays: len(a.days),
			Services:   services,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Credits != out[j].Credits {
			return out[i].Credits > out[j].Credits
		}
		return out[i].UserKey < out[j].UserKey
	})
	return out
}

// SummarizeByUserFeature folds attributed rows into one summary per user,
// service and feature, ordered by credits descending.
func SummarizeByUserFeature(rows []Row) []UserFeatureSummary {
	type key struct {
		userKey     string
		serviceType usagedomain.ServiceType
		featureName string
	}
	byKey := make(map[key]*UserFeatureSummary)
	for _, row := range rows {
		k := key{userKey: row.UserKey, serviceType: row.ServiceType, featureName: row.FeatureName}
		s, ok := byKey[k]
		if !ok {
			s = &UserFeatureSummary{
				UserKey:     row.UserKey,
				ServiceType: row.ServiceType,
				FeatureName: row.FeatureName,
			}
			byKey[k] = s
		}
		s.Credits += row.Credits
		s.Operations += row.Operations
	}

	out := make([]UserFeatureSummary, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Credits != out[j].Credits {
			return out[i].Credits > out[j].Credits
		}
		if out[i].UserKey != out[j].UserKey {
			return out[i].UserKey < out[j].UserKey
		}
		if out[i].ServiceType != out[j].ServiceType {
			return out[i].ServiceType < out[j].ServiceType
		}
		return out[i].FeatureName < out[j].FeatureName
	})
	return out
}
