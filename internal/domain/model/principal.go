package model

// Principal — аутентифицированная личность, от имени которой выполняется
// операция реестра. Выдаётся внешним слоем аутентификации, реестр
// никогда не проверяет учётные данные сам.
type Principal struct {
	// ID — идентификатор студента (sub из JWT). Пустой у анонимного principal.
	ID string
	// Name — отображаемое имя
	Name string
	// IsAdmin — principal имеет права администратора
	IsAdmin bool
}

// Anonymous — principal для неаутентифицированных запросов.
var Anonymous = Principal{Name: AnonymousName}

// IsAnonymous возвращает true, если principal не аутентифицирован.
func (p Principal) IsAnonymous() bool {
	return p.ID == ""
}

// DisplayName возвращает имя для записи в метаданные.
func (p Principal) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	if p.ID != "" {
		return p.ID
	}
	return AnonymousName
}
