// Package retrier выполняет foreground-DDL с retry по lock-таймауту.
//
// Каждая попытка идёт в собственной транзакции с коротким
// SET LOCAL lock_timeout: вместо того чтобы стоять в очереди за
// долгим локом (и блокировать всех позади себя), statement быстро
// падает с SQLSTATE 55P03 и повторяется с экспоненциальной задержкой.
package retrier
