package runner

import "errors"

var (
	// ErrNotRunnable — запись не в статусе, допускающем выполнение шага.
	ErrNotRunnable = errors.New("migration is not runnable")

	// ErrCompositeMigration — composite-родитель сам шагов не выполняет.
	ErrCompositeMigration = errors.New("composite migration owns no work")
)
