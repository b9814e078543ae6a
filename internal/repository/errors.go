package repository

import "errors"

// Erros sentinela do repositório. As camadas de serviço comparam com
// errors.Is e traduzem para seus próprios erros de domínio.
var (
	ErrNotFound      = errors.New("registro não encontrado")
	ErrAlreadyExists = errors.New("registro já existe")
)
