// Package migrate содержит batch/cursor-движок для data-миграций:
// интерфейс пользовательских миграций, реестр по имени и общую
// конфигурацию движка.
//
// Data-миграция — это ленивая, возобновляемая последовательность
// ограниченных порций работы над набором строк. Позиция возобновления
// хранится как непрозрачный сериализуемый Cursor; получение следующей
// порции детерминировано по (данные, cursor), поэтому после падения
// движок продолжает с сохранённой позиции, не пропуская строк.
//
// Идемпотентность обработки — контракт пользовательского кода:
// порция может быть выполнена повторно, если процесс упал между
// «порция применена» и «cursor сохранён».
package migrate
