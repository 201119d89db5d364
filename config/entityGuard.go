package config

import (
	"strings"

	"github.com/mmdatafocus/finreport_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const entityColumn = "entity"

// EntityGuardPlugin scopes reads, updates and deletes on tables with an
// entity column to the request's entity, so one company's ledger can never
// be read or cleared through another company's route.
//
// Raw SQL is not scoped.
type EntityGuardPlugin struct{}

func NewEntityGuardPlugin() *EntityGuardPlugin { return &EntityGuardPlugin{} }

func (p *EntityGuardPlugin) Name() string { return "entity_guard" }

func (p *EntityGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("entity_guard:query", entityGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("entity_guard:row", entityGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("entity_guard:update", entityGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("entity_guard:delete", entityGuardCallback); err != nil {
		return err
	}
	return nil
}

func entityGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	entity, _ := appctx.GetString(ctx, appctx.ContextKeyEntity)
	if entity == "" || db.Statement.Schema == nil {
		return
	}
	if db.Statement.Schema.LookUpField(entityColumn) == nil {
		return
	}
	if whereHasEntity(db.Statement.Clauses["WHERE"]) {
		return
	}

	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: entityColumn},
				Value:  entity,
			},
		},
	})
}

func whereHasEntity(c clause.Clause) bool {
	if c.Expression == nil {
		return false
	}
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprHasEntity(e) {
			return true
		}
	}
	return false
}

func exprHasEntity(e clause.Expression) bool {
	switch v := e.(type) {
	case clause.Eq:
		return colIsEntity(v.Column)
	case clause.IN:
		return colIsEntity(v.Column)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprHasEntity(x) {
				return true
			}
		}
		return false
	case clause.Expr:
		// Best-effort for raw expressions.
		return strings.Contains(strings.ToLower(v.SQL), entityColumn)
	default:
		return false
	}
}

func colIsEntity(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, entityColumn)
	case clause.Column:
		return strings.EqualFold(c.Name, entityColumn)
	default:
		return false
	}
}
