package ledger

// Administrator returns the principal fixed at initialization, or "" when the
// ledger has not been initialized
func (l *Ledger) Administrator() (Principal, error) {
	raw, found, err := l.store.Get(keyAdmin)
	if err != nil {
		return "", internalError("administrator", 0, err)
	}
	if !found {
		return "", nil
	}
	return Principal(raw), nil
}

// HasRole reports whether p currently holds role. Missing grants are false.
func (l *Ledger) HasRole(p Principal, role Role) (bool, error) {
	raw, found, err := l.store.Get(roleKey(role, p))
	if err != nil {
		return false, internalError("hasRole", 0, err)
	}
	return found && len(raw) == 1 && raw[0] == 1, nil
}

// Roles returns every role p currently holds, in declaration order
func (l *Ledger) Roles(p Principal) ([]Role, error) {
	held := []Role{}
	for _, r := range AllRoles {
		ok, err := l.HasRole(p, r)
		if err != nil {
			return nil, err
		}
		if ok {
			held = append(held, r)
		}
	}
	return held, nil
}

func (l *Ledger) requireAdmin(op string, caller Principal) error {
	admin, err := l.Administrator()
	if err != nil {
		return err
	}
	if admin == "" || caller != admin {
		return newError(CodeUnauthorized, op, 0, "%q is not the administrator", caller)
	}
	return nil
}

func (l *Ledger) requireRole(op string, caller Principal, role Role) error {
	ok, err := l.HasRole(caller, role)
	if err != nil {
		return err
	}
	if !ok {
		return newError(CodeUnauthorized, op, 0, "%q lacks role %s", caller, role)
	}
	return nil
}

func (l *Ledger) setRole(p Principal, role Role, granted bool) error {
	v := byte(0)
	if granted {
		v = 1
	}
	return l.store.Set(roleKey(role, p), []byte{v})
}
