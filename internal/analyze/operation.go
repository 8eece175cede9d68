package analyze

// OperationKind — вид DDL-операции.
type OperationKind string

// Виды операций.
const (
	OpCreateIndex        OperationKind = "create_index"
	OpAddColumn          OperationKind = "add_column"
	OpRenameColumn       OperationKind = "rename_column"
	OpChangeColumnType   OperationKind = "change_column_type"
	OpAddForeignKey      OperationKind = "add_foreign_key"
	OpAddCheckConstraint OperationKind = "add_check_constraint"
	OpRawSQL             OperationKind = "raw_sql"
)

// Operation — описание DDL-операции для проверки.
type Operation struct {
	// Kind — вид операции.
	Kind OperationKind

	// Table — целевая таблица.
	Table string

	// Column — целевая колонка (для колоночных операций).
	Column string

	// Index — имя индекса (для create_index).
	Index string

	// Default — выражение default (для add_column).
	Default string

	// Statement — текст statement (обязателен для raw_sql, для
	// остальных видов используется при проверке формулировки).
	Statement string
}

// Verdict — результат проверки операции.
type Verdict struct {
	// Safe — операция безопасна для нагруженной таблицы.
	Safe bool

	// Reason — причина отклонения (для небезопасных).
	Reason string

	// Suggestion — безопасная замена, если она есть.
	Suggestion string
}

// safe — вердикт без замечаний.
var safe = Verdict{Safe: true}

// unsafe конструирует отрицательный вердикт.
func unsafe(reason, suggestion string) Verdict {
	return Verdict{Reason: reason, Suggestion: suggestion}
}
