package domain

import "errors"

// ErrUnauthorized возвращается при отсутствии или невалидности учётных данных.
var ErrUnauthorized = errors.New("пользователь не авторизован")

// ErrNoHistory возвращается, если в окне нет записей просмотров.
var ErrNoHistory = errors.New("история просмотров не найдена, сначала выполните синхронизацию")

// ErrNoProviderToken возвращается, если у запроса нет токена доступа YouTube.
var ErrNoProviderToken = errors.New("нет токена доступа YouTube, переподключите аккаунт Google")

// ErrUpstream помечает сбой внешнего сервиса (видеоплатформа или генератор).
var ErrUpstream = errors.New("внешний сервис недоступен")
