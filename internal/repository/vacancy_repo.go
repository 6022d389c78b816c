package repository

import (
	"context"
	"errors"

	"github.com/danny/vacsync/internal/domain"
	"gorm.io/gorm"
)

// VacancyRepository is the local Record Store implementation backing the
// reconciler. The import engine only reaches it through the
// service.RecordStore contract.
type VacancyRepository struct {
	db *gorm.DB
}

// NewVacancyRepository creates a new VacancyRepository.
func NewVacancyRepository(db *gorm.DB) *VacancyRepository {
	return &VacancyRepository{db: db}
}

// FindByUniqueID retrieves a vacancy by its upstream reference.
// Returns nil without error when no record exists.
func (r *VacancyRepository) FindByUniqueID(ctx context.Context, ref string) (*domain.Vacancy, error) {
	var v domain.Vacancy
	if err := r.db.WithContext(ctx).First(&v, "vacancy_ref = ?", ref).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// Create inserts a new vacancy record.
func (r *VacancyRepository) Create(ctx context.Context, v *domain.Vacancy) (uint, error) {
	if err := r.db.WithContext(ctx).Create(v).Error; err != nil {
		return 0, err
	}
	return v.ID, nil
}

// Update saves an existing vacancy record.
func (r *VacancyRepository) Update(ctx context.Context, v *domain.Vacancy) error {
	return r.db.WithContext(ctx).Save(v).Error
}

// Delete hard-deletes a vacancy by primary key.
func (r *VacancyRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Unscoped().Delete(&domain.Vacancy{}, id).Error
}

// SetClassification associates the coarse taxonomy values with a vacancy.
func (r *VacancyRepository) SetClassification(ctx context.Context, id uint, class domain.Classification) error {
	return r.db.WithContext(ctx).Model(&domain.Vacancy{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"level":    class.Level,
			"route":    class.Route,
			"employer": class.Employer,
		}).Error
}

// ListRefsNotIn retrieves stored vacancies whose reference did not
// appear in the fetched set. Feeds the expiration-based deletion pass.
func (r *VacancyRepository) ListRefsNotIn(ctx context.Context, refs []string) ([]domain.Vacancy, error) {
	var vacancies []domain.Vacancy
	query := r.db.WithContext(ctx)
	if len(refs) > 0 {
		query = query.Where("vacancy_ref NOT IN ?", refs)
	}
	if err := query.Find(&vacancies).Error; err != nil {
		return nil, err
	}
	return vacancies, nil
}

// Count returns the number of stored vacancies.
func (r *VacancyRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Vacancy{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
