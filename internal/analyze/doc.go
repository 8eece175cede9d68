// Package analyze — статический анализатор безопасности DDL-операций.
//
// Проверяет операцию до постановки в очередь: классические паттерны,
// берущие долгий ACCESS EXCLUSIVE лок на нагруженной таблице
// (неконкурентное построение индекса, volatile default, переименование
// и смена типа колонки, невалидированные constraints), отклоняются с
// готовой безопасной заменой.
//
// Анализатор консервативен: сомнительная операция считается небезопасной.
package analyze
