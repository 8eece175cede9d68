package repo

import (
	"github.com/google/uuid"

	"github.com/shaiso/Migrata/internal/domain"
)

// SelectCandidates применяет правила отбора кандидатов к рабочему
// множеству миграций:
//
//   - по одной записи на «семью» (standalone-запись сама себе семья,
//     дети composite-родителя продвигаются строго по одному в порядке
//     создания);
//   - ENQUEUED schema-миграция над таблицей, которую уже меняет
//     активная schema-миграция, не стартует — конфликтующие изменения
//     одной таблицы сериализуются. Её семья в этом проходе стоит:
//     перескакивать через заблокированного ребёнка к следующему
//     нельзя, порядок внутри семьи строгий;
//   - не больше limit кандидатов (limit <= 0 — без ограничения).
//
// records обязаны быть отсортированы по (семья, created_at) — так их
// отдаёт ListCandidates.
func SelectCandidates(records []domain.Migration, limit int) []domain.Migration {
	busyTables := make(map[string]bool)
	for i := range records {
		m := &records[i]
		if m.Kind == domain.KindSchema && m.Status.IsActive() {
			busyTables[m.TableName] = true
		}
	}

	seen := make(map[uuid.UUID]bool)
	var selected []domain.Migration
	for i := range records {
		m := &records[i]

		family := m.ID
		if m.ParentID != nil {
			family = *m.ParentID
		}
		if seen[family] {
			continue
		}
		seen[family] = true

		if m.Status == domain.StatusEnqueued && m.Kind == domain.KindSchema && busyTables[m.TableName] {
			continue
		}

		selected = append(selected, *m)
		if limit > 0 && len(selected) >= limit {
			break
		}
	}
	return selected
}
