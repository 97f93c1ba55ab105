// Package report реализует Artifact Reporter.
//
// После завершения всех job'ов run'а Reporter выбирает job'ы,
// удовлетворяющие guard'у секции report, и отправляет их артефакт
// во внешний collector. По построению guard'а такой job один.
//
// Отправка происходит только для успешного job'а с собранным артефактом.
// Ошибка отправки валит run, только если выставлен fail_loudly;
// иначе она логируется и проглатывается.
package report
