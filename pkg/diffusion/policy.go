package diffusion

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/google/cel-go/cel"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/haolipeng/ibgp2d/pkg/types"
)

// Origin 前缀来源
type Origin string

const (
	OriginTransit  Origin = "transit"
	OriginExternal Origin = "external"
)

// Candidate 一个待转发给邻居的下一跳前缀
type Candidate struct {
	Neighbor types.RouterID
	Prefix   netip.Prefix
	Origin   Origin
	ASBR     types.RouterID // transit前缀时为本路由器
}

// PolicyRule 导出策略文件格式
type PolicyRule struct {
	Name        string `yaml:"name"`
	State       string `yaml:"state"` // enable/disable
	Expression  string `yaml:"expression"`
	Description string `yaml:"description"`
}

// Policy 导出策略，CEL表达式返回false的前缀不会转发给该邻居
type Policy struct {
	expression string
	program    cel.Program
}

func newPolicyEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("neighbor", cel.StringType),
		cel.Variable("prefix", cel.StringType),
		cel.Variable("prefix_len", cel.IntType),
		cel.Variable("origin", cel.StringType),
		cel.Variable("asbr", cel.StringType),
	)
}

// compileExpression 编译并检查表达式，要求返回布尔值
func compileExpression(env *cel.Env, expression string) (cel.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression is empty")
	}

	// 1.编译表达式，生成AST
	ast, iss := env.Compile(expression)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compile expression failed: %w", iss.Err())
	}

	// 2.类型检查
	checked, iss := env.Check(ast)
	if iss.Err() != nil {
		return nil, fmt.Errorf("check expression failed: %w", iss.Err())
	}
	if !checked.OutputType().IsAssignableType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", checked.OutputType().String())
	}

	// 3.生成程序
	program, err := env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("create program failed: %w", err)
	}
	return program, nil
}

// ValidateExpression 验证策略表达式是否有效
func ValidateExpression(expression string) error {
	env, err := newPolicyEnv()
	if err != nil {
		return fmt.Errorf("create CEL env failed: %w", err)
	}
	_, err = compileExpression(env, expression)
	return err
}

// NewPolicy 编译导出策略
func NewPolicy(expression string) (*Policy, error) {
	env, err := newPolicyEnv()
	if err != nil {
		return nil, fmt.Errorf("create CEL env failed: %w", err)
	}
	program, err := compileExpression(env, expression)
	if err != nil {
		return nil, err
	}
	return &Policy{expression: expression, program: program}, nil
}

// LoadPolicyFile 从YAML文件加载导出策略，禁用状态的策略返回nil
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file failed: %w", err)
	}

	var rule PolicyRule
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("parse policy file failed: %w", err)
	}
	if rule.State == "disable" {
		logrus.Infof("Policy %q is disabled", rule.Name)
		return nil, nil
	}

	policy, err := NewPolicy(rule.Expression)
	if err != nil {
		return nil, fmt.Errorf("policy %q: %w", rule.Name, err)
	}
	logrus.Infof("Loaded export policy %q: %s", rule.Name, rule.Expression)
	return policy, nil
}

func (p *Policy) Expression() string {
	return p.expression
}

// Permit 评估候选前缀，求值出错时沿用扩散规则的结果(允许)
func (p *Policy) Permit(c Candidate) bool {
	vars := map[string]interface{}{
		"neighbor":   c.Neighbor.String(),
		"prefix":     c.Prefix.String(),
		"prefix_len": int64(c.Prefix.Bits()),
		"origin":     string(c.Origin),
		"asbr":       c.ASBR.String(),
	}

	result, _, err := p.program.Eval(vars)
	if err != nil {
		logrus.Warnf("Evaluate policy failed for %s: %v", c.Prefix, err)
		return true
	}
	permit, ok := result.Value().(bool)
	if !ok {
		logrus.Warnf("Policy result is not boolean: %v", result.Value())
		return true
	}
	return permit
}
