// Package lock реализует кросс-процессный exclusivity-лок на
// pg_try_advisory_lock.
//
// Ключ ресурса — строка: имя таблицы для schema-миграций, идентичность
// записи для data-миграций. Захват неблокирующий; лок живёт на
// выделенном соединении пула и снимается вместе с ним, поэтому смерть
// процесса автоматически освобождает ресурс.
package lock
