package domain

import (
	"context"
	"errors"
	"sort"

	identitydomain "github.com/repairlane/repairlane/internal/identity/domain"
	"github.com/repairlane/repairlane/pkg/db/pagination"
)

type CreateProfileRequest struct {
	ID          string
	Role        identitydomain.Role
	DisplayName string
	Email       string
}

type UpdateProfileRequest struct {
	ID          string
	DisplayName *string
	Metadata    map[string]any
}

type ListTechniciansRequest struct {
	PageToken     string
	PageSize      int32
	Service       string
	City          string
	OnlyAvailable bool
}

type TechnicianListing struct {
	Profile    Profile           `json:"profile"`
	Technician TechnicianProfile `json:"technician"`
}

type ListTechniciansResponse struct {
	pagination.PageInfo
	Technicians []TechnicianListing `json:"technicians"`
}

// Service is the profile store contract. Lookups return (nil, nil) when no
// record exists; nil signals "not found", not an error.
type Service interface {
	CreateProfile(ctx context.Context, req CreateProfileRequest) (*Profile, error)
	UpdateProfile(ctx context.Context, req UpdateProfileRequest) (*Profile, error)
	GetProfile(ctx context.Context, id string) (*Profile, error)
	GetCustomerProfile(ctx context.Context, id string) (*CustomerProfile, error)
	GetTechnicianProfile(ctx context.Context, id string) (*TechnicianProfile, error)
	ListTechnicians(ctx context.Context, req ListTechniciansRequest) (ListTechniciansResponse, error)
}

var (
	ErrInvalidID     = errors.New("invalid_id")
	ErrInvalidEmail  = errors.New("invalid_email")
	ErrInvalidName   = errors.New("invalid_name")
	ErrNotFound      = errors.New("not_found")
	ErrProfileExists = errors.New("profile_exists")
)

// DedupeTechnicians collapses duplicate technician rows, first by id and
// then by email, keeping the most recently updated record. Duplicates crept
// in through double registration in the legacy client and still exist in old
// datasets.
func DedupeTechnicians(items []TechnicianListing) []TechnicianListing {
	if len(items) <= 1 {
		return items
	}

	sorted := append([]TechnicianListing(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Profile.UpdatedAt.After(sorted[j].Profile.UpdatedAt)
	})

	byID := make(map[string]struct{}, len(sorted))
	byEmail := make(map[string]struct{}, len(sorted))
	out := make([]TechnicianListing, 0, len(sorted))
	for _, item := range sorted {
		id := item.Profile.ID.String()
		if _, seen := byID[id]; seen {
			continue
		}
		if item.Profile.Email != "" {
			if _, seen := byEmail[item.Profile.Email]; seen {
				continue
			}
			byEmail[item.Profile.Email] = struct{}{}
		}
		byID[id] = struct{}{}
		out = append(out, item)
	}
	return out
}
