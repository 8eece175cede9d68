package analyze

import (
	"fmt"
	"regexp"
	"strings"
)

// volatileDefaults — выражения default, требующие перезаписи таблицы
// либо дающие разные значения на разных репликах.
var volatileDefaults = []string{
	"now()",
	"clock_timestamp()",
	"statement_timestamp()",
	"transaction_timestamp()",
	"random()",
	"gen_random_uuid()",
	"uuid_generate_v4()",
}

// Check проверяет операцию на безопасность для нагруженной таблицы.
func Check(op Operation) Verdict {
	switch op.Kind {
	case OpCreateIndex:
		return checkCreateIndex(op)
	case OpAddColumn:
		return checkAddColumn(op)
	case OpRenameColumn:
		return checkRenameColumn(op)
	case OpChangeColumnType:
		return checkChangeColumnType(op)
	case OpAddForeignKey:
		return checkConstraint(op, "foreign key")
	case OpAddCheckConstraint:
		return checkConstraint(op, "check constraint")
	case OpRawSQL:
		return checkRawSQL(op)
	default:
		return unsafe(
			fmt.Sprintf("unknown operation kind %q", op.Kind),
			"",
		)
	}
}

// checkCreateIndex требует CONCURRENTLY: обычный CREATE INDEX держит
// SHARE лок на таблице всё время построения.
func checkCreateIndex(op Operation) Verdict {
	if op.Statement == "" || containsWord(op.Statement, "CONCURRENTLY") {
		return safe
	}
	return unsafe(
		fmt.Sprintf("building index %s on %s without CONCURRENTLY blocks writes for the whole build", op.Index, op.Table),
		suggestConcurrently(op.Statement),
	)
}

// checkAddColumn отклоняет volatile defaults: такой ADD COLUMN
// перезаписывает всю таблицу под ACCESS EXCLUSIVE локом.
func checkAddColumn(op Operation) Verdict {
	def := strings.ToLower(strings.TrimSpace(op.Default))
	if def == "" {
		return safe
	}
	for _, v := range volatileDefaults {
		if strings.Contains(def, v) {
			return unsafe(
				fmt.Sprintf("adding column %s.%s with volatile default %s rewrites the whole table", op.Table, op.Column, op.Default),
				fmt.Sprintf("add the column without a default, then backfill %s.%s with a data migration", op.Table, op.Column),
			)
		}
	}
	return safe
}

// checkRenameColumn: переименование ломает каждого читателя старого
// имени в момент переключения.
func checkRenameColumn(op Operation) Verdict {
	return unsafe(
		fmt.Sprintf("renaming column %s.%s breaks readers of the old name", op.Table, op.Column),
		fmt.Sprintf("add a new column, dual-write, backfill %s with a data migration, then drop the old column", op.Table),
	)
}

// checkChangeColumnType: почти любая смена типа перезаписывает таблицу.
func checkChangeColumnType(op Operation) Verdict {
	return unsafe(
		fmt.Sprintf("changing the type of %s.%s rewrites the table under an exclusive lock", op.Table, op.Column),
		fmt.Sprintf("add a column of the new type, dual-write, backfill %s with a data migration, then swap", op.Table),
	)
}

// checkConstraint требует NOT VALID: валидация при создании сканирует
// всю таблицу под локом.
func checkConstraint(op Operation, kind string) Verdict {
	if op.Statement == "" || containsWord(op.Statement, "NOT VALID") {
		return safe
	}
	return unsafe(
		fmt.Sprintf("adding a %s on %s validates every row under a lock", kind, op.Table),
		strings.TrimRight(op.Statement, "; \t\n") + " NOT VALID, then VALIDATE CONSTRAINT in a separate statement",
	)
}

// rawPatterns — эвристики для произвольного SQL. Совпадение re при
// отсутствии спасающей подстроки unless делает statement небезопасным.
var rawPatterns = []struct {
	re         *regexp.Regexp
	unless     string
	reason     string
	suggestion string
}{
	{
		re:         regexp.MustCompile(`(?i)CREATE\s+(UNIQUE\s+)?INDEX\s`),
		unless:     "CONCURRENTLY",
		reason:     "CREATE INDEX without CONCURRENTLY blocks writes for the whole build",
		suggestion: "use CREATE INDEX CONCURRENTLY",
	},
	{
		re:         regexp.MustCompile(`(?i)ALTER\s+TABLE\s+\S+\s+RENAME\s+COLUMN`),
		reason:     "renaming a column breaks readers of the old name",
		suggestion: "add a new column, dual-write, backfill, then drop the old column",
	},
	{
		re:         regexp.MustCompile(`(?i)ALTER\s+COLUMN\s+\S+\s+(SET\s+DATA\s+)?TYPE`),
		reason:     "changing a column type rewrites the table under an exclusive lock",
		suggestion: "add a column of the new type, dual-write, backfill, then swap",
	},
	{
		re:         regexp.MustCompile(`(?i)ADD\s+CONSTRAINT\s+[\s\S]*?(FOREIGN\s+KEY|CHECK)`),
		unless:     "NOT VALID",
		reason:     "adding a constraint validates every row under a lock",
		suggestion: "add the constraint NOT VALID, then VALIDATE CONSTRAINT separately",
	},
	{
		re:         regexp.MustCompile(`(?i)VACUUM\s+FULL`),
		reason:     "VACUUM FULL takes an exclusive lock and rewrites the table",
		suggestion: "use plain VACUUM or pg_repack",
	},
}

// checkRawSQL прогоняет statement через эвристики.
func checkRawSQL(op Operation) Verdict {
	for _, p := range rawPatterns {
		if !p.re.MatchString(op.Statement) {
			continue
		}
		if p.unless != "" && containsWord(op.Statement, p.unless) {
			continue
		}
		return unsafe(p.reason, p.suggestion)
	}
	return safe
}

// containsWord — регистронезависимый поиск подстроки.
func containsWord(s, word string) bool {
	return strings.Contains(strings.ToUpper(s), strings.ToUpper(word))
}

// suggestConcurrently переписывает CREATE INDEX в конкурентную форму.
func suggestConcurrently(statement string) string {
	re := regexp.MustCompile(`(?i)(CREATE\s+(?:UNIQUE\s+)?INDEX)\s+`)
	return re.ReplaceAllString(statement, "$1 CONCURRENTLY ")
}
