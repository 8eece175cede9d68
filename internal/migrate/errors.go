package migrate

import "errors"

var (
	// ErrUnknownMigration — имя миграции не зарегистрировано в Registry.
	ErrUnknownMigration = errors.New("unknown migration")

	// ErrBadCursor — cursor не десериализуется в ожидаемый формат.
	ErrBadCursor = errors.New("bad cursor")
)
