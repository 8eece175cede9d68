// Package worker реализует фоновое выполнение шагов миграций.
//
// Worker — stateless компонент: получает из RabbitMQ сигнал «пора
// сделать шаг», перечитывает запись из БД, арбитрирует доступ
// advisory-локом и выполняет ровно один шаг через runner. Источник
// истины — запись в БД, поэтому потерянное или лишнее сообщение
// безвредно: лишнее отсеется по статусу и локу, потерянное повторит
// следующий проход Scheduler'а.
//
// Workers масштабируются горизонтально — несколько экземпляров
// могут потреблять из одной очереди.
package worker
