package service

import "errors"

// Erros sentinela do domínio. Os serviços embrulham a causa com %w e a
// camada HTTP traduz via errors.Is para o status correspondente:
// NotFound -> 404, Forbidden -> 403, Unauthorized -> 401, Gone -> 410,
// InvalidState -> 409, InvalidArgument -> 400, AlreadyExists -> 409.
var (
	ErrNotFound        = errors.New("recurso não encontrado")
	ErrForbidden       = errors.New("operação não permitida")
	ErrUnauthorized    = errors.New("credenciais inválidas")
	ErrGone            = errors.New("recurso expirado")
	ErrInvalidState    = errors.New("estado atual não permite a operação")
	ErrInvalidArgument = errors.New("argumento inválido")
	ErrAlreadyExists   = errors.New("recurso já existe")
)
