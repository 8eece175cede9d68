// Package cli реализует операторские команды управления миграциями.
//
// CLI работает напрямую с координирующей БД через репозитории — у
// движка нет API-сервера. Форматирование вывода (таблица/JSON) общее
// для всех команд и живёт в output.go.
package cli
