package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

// initCELEnv 初始化 CEL 环境，定义变量
func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// getCELEnv 获取或创建 CEL 环境
func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// Rule 是一条准入规则：表达式对请求记录求值，结果为 false 时拒绝请求。
//
// 表达式使用 CEL 语法，记录字段通过 record.<field> 访问：
//   - 数值：record.age >= 18 && record.age <= 120
//   - 浮点：record.bmi > 10.0 && record.bmi < 80.0
//   - 枚举：record.region in ["northeast", "northwest", "southeast", "southwest"]
//
// age、children 为 int，bmi 为 double，类别字段为 string。
type Rule struct {
	Name    string `yaml:"name"`
	Expr    string `yaml:"expr"`
	Message string `yaml:"message"`
}

// RuleSet 是编译好的一组规则，编译一次，并发求值。
type RuleSet struct {
	rules    []Rule
	programs []cel.Program
}

// Violation 描述第一条未通过的规则
type Violation struct {
	Rule    string
	Expr    string
	Message string
}

// Error 优先返回配置的 message，否则给出规则名和表达式
func (v *Violation) Error() string {
	if v.Message != "" {
		return v.Message
	}
	return fmt.Sprintf("rule %q rejected the request: %s", v.Rule, v.Expr)
}

// Compile 编译规则；任意一条编译失败或返回类型不是 bool 都返回错误。
func Compile(rules []Rule) (*RuleSet, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	rs := &RuleSet{rules: make([]Rule, 0, len(rules)), programs: make([]cel.Program, 0, len(rules))}
	for i, r := range rules {
		if r.Expr == "" {
			continue
		}
		if r.Name == "" {
			r.Name = fmt.Sprintf("rule_%d", i)
		}
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile rule %q: %w", r.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
			return nil, fmt.Errorf("rule %q must return bool, got %s", r.Name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("program rule %q: %w", r.Name, err)
		}
		rs.rules = append(rs.rules, r)
		rs.programs = append(rs.programs, prg)
	}
	return rs, nil
}

// Len 返回规则数
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Check 按顺序求值，返回第一条不通过的规则（*Violation）或求值错误。
func (rs *RuleSet) Check(record map[string]any) error {
	if rs == nil {
		return nil
	}
	input := map[string]any{"record": record}
	for i, prg := range rs.programs {
		out, _, err := prg.Eval(input)
		if err != nil {
			return fmt.Errorf("eval rule %q: %w", rs.rules[i].Name, err)
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			return fmt.Errorf("rule %q must return bool, got %T", rs.rules[i].Name, out.Value())
		}
		if !ok {
			return &Violation{Rule: rs.rules[i].Name, Expr: rs.rules[i].Expr, Message: rs.rules[i].Message}
		}
	}
	return nil
}

// Evaluate 一次性编译并求值单个表达式，适合调试和配置校验。
func Evaluate(expr string, record map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}
	rs, err := Compile([]Rule{{Name: "adhoc", Expr: expr}})
	if err != nil {
		return false, err
	}
	err = rs.Check(record)
	if _, rejected := err.(*Violation); rejected {
		return false, nil
	}
	return err == nil, err
}
